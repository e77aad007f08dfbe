// Package phrase implements [wake.Detector] by transcribing the speech
// segment and spotting the configured wake phrase in the transcript with a
// phonetic matcher, so that near misses such as "hey jarvus" still trigger.
package phrase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hearken/internal/phonetic"
	"github.com/MrWong99/hearken/pkg/provider/transcribe"
	"github.com/MrWong99/hearken/pkg/provider/wake"
)

// Detector spots a wake phrase in transcribed speech.
type Detector struct {
	phrase      string
	transcriber transcribe.Transcriber
	matcher     *phonetic.Matcher
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(d *Detector) {
		if m != nil {
			d.matcher = m
		}
	}
}

// New returns a Detector for phrase. The phrase must contain at least one
// phonetically encodable word.
func New(phrase string, t transcribe.Transcriber, opts ...Option) (*Detector, error) {
	if t == nil {
		return nil, errors.New("wake phrase: transcriber is required")
	}
	if len(phonetic.Codes(phrase)) == 0 {
		return nil, fmt.Errorf("wake phrase: %q has no phonetic content", phrase)
	}
	d := &Detector{phrase: phrase, transcriber: t, matcher: phonetic.New()}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Detect transcribes segment and reports whether the wake phrase was spoken.
func (d *Detector) Detect(ctx context.Context, segment []int16) (bool, error) {
	text, err := d.transcriber.Transcribe(ctx, segment)
	if err != nil {
		return false, fmt.Errorf("wake phrase: transcribe: %w", err)
	}
	if text == "" {
		return false, nil
	}
	score, ok := d.matcher.Spot(text, d.phrase)
	slog.Debug("wake phrase: checked segment", "text", text, "phrase", d.phrase, "score", score, "hit", ok)
	return ok, nil
}

var _ wake.Detector = (*Detector)(nil)
