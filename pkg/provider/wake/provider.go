// Package wake defines the Detector interface used by front ends to decide
// whether a completed speech segment contained the wake phrase.
//
// Detection runs off the audio path: front ends hand over whole segments and
// continue processing audio while the detector works, so implementations may
// take as long as a transcription pass.
package wake

import "context"

// Detector decides whether a speech segment contains the wake phrase.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, segment []int16) (bool, error)
}

// DetectorFunc adapts an ordinary function to the [Detector] interface.
type DetectorFunc func(ctx context.Context, segment []int16) (bool, error)

// Detect calls f(ctx, segment).
func (f DetectorFunc) Detect(ctx context.Context, segment []int16) (bool, error) {
	return f(ctx, segment)
}
