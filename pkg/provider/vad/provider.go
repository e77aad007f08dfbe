// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own smoothing history
// so that the front end and the command classifier can run independent
// detectors over the same audio.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, which keeps it usable inside the recognizer's fetch loop.
//
// Engines must be safe for concurrent use across different sessions. A single
// SessionHandle must not be shared across goroutines.
package vad

import "errors"

// ErrFrameSize is returned by ProcessFrame when the frame length does not
// match the configured frame size.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSize is the number of samples per frame. ProcessFrame rejects
	// frames of any other length.
	FrameSize int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech
	// segment is considered ended. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64

	// HangoverFrames is how many consecutive silent frames end a speech
	// segment. Zero ends it on the first silent frame.
	HangoverFrames int
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, errors.New("vad: frame size must be positive"))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, errors.New("vad: speech threshold out of range [0, 1]"))
	}
	if c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must not exceed speech threshold"))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of FrameSize samples and returns the
	// detection result. It must not block.
	ProcessFrame(frame []int16) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
