package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/transcribe/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNew_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNew_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.New("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestTranscribe_SilenceYieldsNoError(t *testing.T) {
	n, err := whisper.New(testModelPath(t), whisper.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	// One second of silence.
	if _, err := n.Transcribe(context.Background(), make([]int16, 16000)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestTranscribe_EmptyInput(t *testing.T) {
	n, err := whisper.New(testModelPath(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	text, err := n.Transcribe(context.Background(), nil)
	if err != nil || text != "" {
		t.Errorf("Transcribe(nil) = %q, %v; want empty, nil", text, err)
	}
}

func TestTranscribe_AfterClose(t *testing.T) {
	n, err := whisper.New(testModelPath(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = n.Close()
	if err := n.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, err := n.Transcribe(context.Background(), make([]int16, 160)); err == nil {
		t.Error("expected error after Close")
	}
}
