package spectral_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/vad"
	"github.com/MrWong99/hearken/pkg/provider/vad/spectral"
)

const frameSize = 512

func testConfig() vad.Config {
	return vad.Config{
		SampleRate:       16000,
		FrameSize:        frameSize,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		HangoverFrames:   2,
	}
}

func tone(freq, amplitude float64) []int16 {
	out := make([]int16, frameSize)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func newSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	sess, err := spectral.New().NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func process(t *testing.T, sess vad.SessionHandle, frame []int16) vad.Event {
	t.Helper()
	ev, err := sess.ProcessFrame(frame)
	if err != nil {
		t.Fatalf("ProcessFrame() error: %v", err)
	}
	return ev
}

func TestSession_SilenceStaysSilent(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	silence := make([]int16, frameSize)
	for i := range 5 {
		if ev := process(t, sess, silence); ev.Type != vad.Silence {
			t.Fatalf("frame %d: got %v, want Silence", i, ev.Type)
		}
	}
}

func TestSession_ToneStartsAndEndsSegment(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	silence := make([]int16, frameSize)
	voice := tone(1000, 0.5)

	process(t, sess, silence)
	if ev := process(t, sess, voice); ev.Type != vad.SpeechStart {
		t.Fatalf("first voiced frame: got %v (p=%.2f), want SpeechStart", ev.Type, ev.Probability)
	}
	if ev := process(t, sess, voice); ev.Type != vad.SpeechContinue {
		t.Fatalf("second voiced frame: got %v, want SpeechContinue", ev.Type)
	}

	// Hangover of 2 keeps the segment open for two silent frames.
	for i := range 2 {
		if ev := process(t, sess, silence); ev.Type != vad.SpeechContinue {
			t.Fatalf("hangover frame %d: got %v, want SpeechContinue", i, ev.Type)
		}
	}
	if ev := process(t, sess, silence); ev.Type != vad.SpeechEnd {
		t.Fatalf("after hangover: got %v, want SpeechEnd", ev.Type)
	}
}

func TestSession_OutOfBandToneIsNotSpeech(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	if ev := process(t, sess, tone(6000, 0.5)); ev.Type != vad.Silence {
		t.Errorf("6kHz tone: got %v (p=%.2f), want Silence", ev.Type, ev.Probability)
	}
}

func TestSession_FrameSizeMismatch(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	_, err := sess.ProcessFrame(make([]int16, frameSize-1))
	if !errors.Is(err, vad.ErrFrameSize) {
		t.Errorf("error = %v, want ErrFrameSize", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.SilenceThreshold = 0.9
	if _, err := spectral.New().NewSession(cfg); err == nil {
		t.Error("expected error when silence threshold exceeds speech threshold")
	}
}
