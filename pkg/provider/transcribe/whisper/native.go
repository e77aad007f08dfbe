// Package whisper implements [transcribe.Transcriber] with the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/transcribe"
)

const defaultLanguage = "en"

// Compile-time assertion that Native satisfies transcribe.Transcriber.
var _ transcribe.Transcriber = (*Native)(nil)

// Native transcribes utterances with a locally loaded whisper.cpp model. The
// model is loaded once and shared; every call creates its own context.
type Native struct {
	language string
	threads  uint

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// Option is a functional option for configuring a [Native] transcriber.
type Option func(*Native)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(n *Native) {
		if lang != "" {
			n.language = lang
		}
	}
}

// WithThreads sets the number of inference threads. Zero keeps the
// whisper.cpp default.
func WithThreads(threads uint) Option {
	return func(n *Native) { n.threads = threads }
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Transcribe runs whisper.cpp inference over samples and returns the
// concatenated segment text.
func (n *Native) Transcribe(ctx context.Context, samples []int16) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if len(samples) == 0 {
		return "", nil
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return "", errors.New("whisper: transcriber closed")
	}
	model := n.model
	n.mu.Unlock()

	// Contexts are not thread-safe, but the model can be shared.
	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	start := time.Now()
	if err := wctx.Process(audio.Int16ToFloat32(samples), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.Join(parts, " ")
	slog.Debug("whisper: transcribed utterance",
		"samples", len(samples),
		"elapsed", time.Since(start),
		"text", text,
	)
	return text, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.model.Close()
}
