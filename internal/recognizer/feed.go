package recognizer

import (
	"errors"
	"log/slog"

	"github.com/MrWong99/hearken/pkg/audio"
)

// feedLoop moves audio from the source into the front end until the session
// stops. The transfer buffer is sized once, from the chunk size the front
// end reports when the worker starts.
func (c *Controller) feedLoop(s *session) {
	log := slog.With("component", "feed")
	chunk := s.fe.FeedChunkSize()
	buf := make([]byte, chunk*audio.BytesPerSample)
	samples := make([]int16, chunk)
	log.Info("recognizer: feed worker started", "chunk", chunk)

	for {
		if s.stop.Fired() {
			log.Debug("recognizer: feed worker exiting")
			return
		}
		if s.feedGate.Paused() {
			if !s.feedGate.Wait(s.stop.Done()) {
				continue
			}
			// Resuming feeds right away.
		}

		n, err := s.source.Fill(s.ctx, buf, 0)
		if err != nil {
			if s.stop.Fired() {
				continue
			}
			c.fillFailures.Add(1)
			c.cfg.Metrics.FillFailures.Add(s.ctx, 1)
			if errors.Is(err, audio.ErrSourceClosed) {
				log.Warn("recognizer: audio source closed", "err", err)
			} else {
				log.Warn("recognizer: audio read failed", "err", err, "bytes", n)
			}
			s.sleep(c.cfg.RetryDelay)
			continue
		}

		// A short read leaves silence in the tail.
		clear(buf[n:])
		audio.BytesToInt16(samples, buf)
		if err := s.fe.Feed(samples); err != nil {
			log.Debug("recognizer: front end rejected audio", "err", err)
		}
	}
}
