package recognizer

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hearken/internal/observe"
)

// dispatchLoop delivers queued results to the event handler until the
// session stops. Pending results are discarded on stop.
func (c *Controller) dispatchLoop(s *session) {
	log := slog.With("component", "dispatch")
	for {
		select {
		case <-s.ctx.Done():
			log.Debug("recognizer: dispatcher exiting")
			return
		case r := <-s.queue.C():
			c.dispatch(s, log, r)
		}
	}
}

func (c *Controller) dispatch(s *session, log *slog.Logger, r Result) {
	ev, ok := r.event()
	if !ok || s.onEvent == nil {
		return
	}
	ctx, span := observe.StartEventSpan(s.ctx, ev.Kind.String(), ev.CommandID)
	start := time.Now()
	s.onEvent(ctx, ev)
	elapsed := time.Since(start)
	observe.EndSpan(span, nil)

	c.dispatched.Add(1)
	c.cfg.Metrics.RecordEvent(s.ctx, ev.Kind.String())
	c.cfg.Metrics.CallbackDuration.Record(s.ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("kind", ev.Kind.String())),
	)
	log.Info("recognizer: event",
		"kind", ev.Kind.String(),
		"command_id", ev.CommandID,
		"phrase_id", ev.PhraseID,
		"handler", elapsed,
	)
}
