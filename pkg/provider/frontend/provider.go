// Package frontend defines the FrontEnd interface for audio front-end engines.
//
// A front end sits between the raw microphone samples and the command
// classifier. It consumes fixed-size chunks of 16-bit mono PCM through Feed,
// runs its own feature extraction (noise suppression, voice activity
// detection, wake-phrase spotting) and hands processed frames back through
// Fetch. Feed and Fetch are called from two different goroutines and
// implementations must tolerate that: a typical engine keeps an internal
// ring buffer guarded by a mutex.
//
// Wake-phrase spotting is toggled with EnableWakeNet and DisableWakeNet. While
// disabled, Fetch keeps returning frames with [WakeNone] so the classifier can
// consume them.
package frontend

import "errors"

// ErrNoData is returned by Fetch when no processed frame became available
// within the engine's internal wait. Callers treat it as a transient failure.
var ErrNoData = errors.New("frontend: no data available")

// WakeState describes the wake-phrase outcome attached to a fetched frame.
type WakeState int

const (
	// WakeNone means no wake phrase was detected in this frame.
	WakeNone WakeState = iota

	// WakeDetected means the wake phrase was spotted.
	WakeDetected

	// WakeChannelVerified means the wake phrase was spotted and attributed to
	// a specific microphone channel. FetchResult.TriggerChannel holds it.
	WakeChannelVerified
)

// String returns a lower-case label suitable for logs and metric attributes.
func (s WakeState) String() string {
	switch s {
	case WakeNone:
		return "none"
	case WakeDetected:
		return "detected"
	case WakeChannelVerified:
		return "channel_verified"
	}
	return "unknown"
}

// VADState is the voice activity classification of a fetched frame.
type VADState int

const (
	VADSilence VADState = iota
	VADSpeech
)

// FetchResult is one processed frame returned by [FrontEnd.Fetch].
type FetchResult struct {
	// Data holds FetchChunkSize samples of processed mono PCM.
	Data []int16

	// WakeState reports wake-phrase detection for this frame.
	WakeState WakeState

	// TriggerChannel is the channel that triggered a verified wake. It is
	// only meaningful when WakeState is WakeChannelVerified.
	TriggerChannel int

	// VADState is the voice activity classification for this frame.
	VADState VADState

	// OK is false when the engine produced a result object but flagged it as
	// unusable. Callers must ignore such results.
	OK bool
}

// Config holds the parameters used to create a [FrontEnd].
type Config struct {
	// SampleRate of the fed audio in Hz. Defaults to 16000 when zero.
	SampleRate int

	// WakeWord starts the engine with wake-phrase spotting enabled.
	WakeWord bool

	// Options carries engine-specific settings.
	Options map[string]any
}

// FrontEnd is the audio front-end engine consumed by the recognizer.
type FrontEnd interface {
	// Feed pushes exactly FeedChunkSize samples into the engine. It must not
	// retain samples after returning.
	Feed(samples []int16) error

	// Fetch blocks for at most an engine-defined short interval and returns
	// the next processed frame. It returns ErrNoData when nothing is ready.
	Fetch() (*FetchResult, error)

	// EnableWakeNet turns wake-phrase spotting on.
	EnableWakeNet()

	// DisableWakeNet turns wake-phrase spotting off.
	DisableWakeNet()

	// FeedChunkSize is the number of samples Feed expects per call.
	FeedChunkSize() int

	// FetchChunkSize is the number of samples in each fetched frame.
	FetchChunkSize() int

	// Close releases all engine resources. Calling Close more than once is
	// safe.
	Close() error
}

// Factory creates FrontEnd instances. The recognizer creates a fresh engine
// per session and closes it on stop.
type Factory interface {
	New(cfg Config) (FrontEnd, error)
}

// FactoryFunc adapts an ordinary function to the [Factory] interface.
type FactoryFunc func(cfg Config) (FrontEnd, error)

// New calls f(cfg).
func (f FactoryFunc) New(cfg Config) (FrontEnd, error) { return f(cfg) }
