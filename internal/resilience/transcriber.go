package resilience

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/provider/transcribe"
)

var _ transcribe.Transcriber = (*Transcriber)(nil)

// callerDone marks a failure caused by the caller's context ending. It never
// counts against a breaker.
type callerDone struct{ err error }

func (e callerDone) Error() string { return e.err.Error() }
func (e callerDone) Unwrap() error { return e.err }

// Transcriber is a [transcribe.Transcriber] that fails over between engines.
// Every attempt gets a "transcribe" span, is timed into
// hearken.transcribe.duration and, on failure, counted in
// hearken.provider.errors.
type Transcriber struct {
	group   *Group[transcribe.Transcriber]
	metrics *observe.Metrics
}

// TranscriberOption configures a [Transcriber].
type TranscriberOption func(*Transcriber)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) TranscriberOption {
	return func(t *Transcriber) { t.metrics = m }
}

// NewTranscriber returns a Transcriber with primary as its preferred engine.
func NewTranscriber(primaryName string, primary transcribe.Transcriber, cfg BreakerConfig, opts ...TranscriberOption) *Transcriber {
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			var done callerDone
			return !errors.As(err, &done) && !errors.Is(err, context.Canceled)
		}
	}
	t := &Transcriber{group: NewGroup(primaryName, primary, cfg)}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// AddFallback registers an engine tried after the ones already added.
func (t *Transcriber) AddFallback(name string, fallback transcribe.Transcriber) {
	t.group.Add(name, fallback)
}

// States reports the breaker state of each engine.
func (t *Transcriber) States() map[string]State { return t.group.States() }

// Transcribe runs the first engine whose breaker admits the call and falls
// through to the next one on failure.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16) (string, error) {
	text, err := Do(t.group, func(name string, tr transcribe.Transcriber) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", callerDone{err}
		}
		sctx, span := observe.StartSpan(ctx, "transcribe", trace.WithAttributes(
			observe.AttrProvider.String(name),
			observe.AttrSamples.Int(len(samples)),
		))
		start := time.Now()
		text, err := tr.Transcribe(sctx, samples)
		t.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", name)))
		observe.EndSpan(span, err)
		if err != nil {
			if ctx.Err() != nil {
				return "", callerDone{err}
			}
			t.metrics.RecordProviderError(ctx, name, "transcribe")
			return "", err
		}
		return text, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	return text, nil
}

// Close closes every engine and joins their errors.
func (t *Transcriber) Close() error {
	var errs []error
	t.group.Each(func(_ string, tr transcribe.Transcriber) {
		errs = append(errs, tr.Close())
	})
	return errors.Join(errs...)
}
