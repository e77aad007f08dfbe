// Package transcribe defines the Transcriber interface for batch speech-to-text
// engines.
//
// The reference wake-phrase detector and command classifier collect a short
// utterance (a few seconds at most) and transcribe it in one call. Streaming
// recognition is not needed for that, so the interface is deliberately a
// single blocking method.
//
// Implementations must be safe for concurrent use.
package transcribe

import "context"

// Transcriber converts a complete utterance into text.
type Transcriber interface {
	// Transcribe returns the text spoken in samples (16 kHz mono PCM). An
	// utterance without recognisable speech yields an empty string and a nil
	// error.
	Transcribe(ctx context.Context, samples []int16) (string, error)

	// Close releases engine resources. Calling Close more than once is safe.
	Close() error
}
