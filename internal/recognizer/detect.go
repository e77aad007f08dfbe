package recognizer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
)

// detectLoop fetches processed frames and turns them into results according
// to the session mode.
func (c *Controller) detectLoop(s *session) {
	log := slog.With("component", "detect")
	fetchChunk := s.fe.FetchChunkSize()
	if s.cl != nil {
		if got := s.cl.ChunkSize(); got != fetchChunk {
			c.cfg.Fatal(fmt.Errorf("%w: classifier %d, front end %d", ErrChunkSizeMismatch, got, fetchChunk))
			return
		}
	}
	log.Info("recognizer: detect worker started", "chunk", fetchChunk)

	for {
		if s.stop.Fired() {
			log.Debug("recognizer: detect worker exiting")
			return
		}
		if s.detectGate.Paused() {
			// Re-check termination before fetching again.
			s.detectGate.Wait(s.stop.Done())
			continue
		}

		res, err := s.fe.Fetch()
		if err != nil || res == nil || !res.OK {
			c.fetchFailed(s, log, res, err)
			s.sleep(c.cfg.Tick)
			continue
		}
		c.trackSpeech(res)

		switch s.currentMode() {
		case ModeWakeWord:
			c.detectWake(s, log, res)
		case ModeCommand:
			c.detectCommand(s, log, res)
		}
	}
}

func (c *Controller) fetchFailed(s *session, log *slog.Logger, res *frontend.FetchResult, err error) {
	if errors.Is(err, frontend.ErrNoData) {
		// The engine had nothing buffered yet.
		return
	}
	c.fetchFailures.Add(1)
	c.cfg.Metrics.FetchFailures.Add(s.ctx, 1)
	switch {
	case err != nil:
		log.Warn("recognizer: fetch failed", "err", err)
	case res == nil:
		log.Warn("recognizer: fetch returned no result")
	default:
		log.Warn("recognizer: fetch result flagged unusable")
	}
}

func (c *Controller) trackSpeech(res *frontend.FetchResult) {
	c.vadState.Store(int32(res.VADState))
	if res.VADState == frontend.VADSpeech {
		c.lastSpeech.Store(time.Now().UnixNano())
	}
}

func (c *Controller) detectWake(s *session, log *slog.Logger, res *frontend.FetchResult) {
	switch res.WakeState {
	case frontend.WakeDetected:
		log.Debug("recognizer: wake word detected")
		c.enqueue(s, log, Result{Wake: frontend.WakeDetected})
	case frontend.WakeChannelVerified:
		_ = c.setMode(s, ModeOff)
		log.Debug("recognizer: wake word verified", "channel", res.TriggerChannel)
		c.enqueue(s, log, Result{Wake: frontend.WakeChannelVerified, CommandID: res.TriggerChannel})
	}
}

func (c *Controller) detectCommand(s *session, log *slog.Logger, res *frontend.FetchResult) {
	if s.cl == nil {
		// Without a classifier command mode degrades to wake-word mode. No
		// event is emitted and the front end is left untouched.
		if s.mode.CompareAndSwap(int32(ModeCommand), int32(ModeWakeWord)) {
			log.Debug("recognizer: no classifier, falling back to wake word mode")
		}
		return
	}

	switch st := s.cl.Detect(res.Data); st {
	case classifier.Detecting:
	case classifier.Timeout:
		_ = c.setMode(s, ModeOff)
		log.Debug("recognizer: command timeout")
		c.enqueue(s, log, Result{Classifier: classifier.Timeout})
	case classifier.Detected:
		_ = c.setMode(s, ModeOff)
		cands := s.cl.Results()
		for i, cand := range cands {
			log.Debug("recognizer: candidate",
				"rank", i+1,
				"command_id", cand.CommandID,
				"phrase_id", cand.PhraseID,
				"prob", cand.Probability,
			)
		}
		if len(cands) == 0 {
			log.Error("recognizer: classifier detected a command without candidates")
			return
		}
		log.Debug("recognizer: command detected", "command_id", cands[0].CommandID, "phrase_id", cands[0].PhraseID)
		c.enqueue(s, log, Result{
			Classifier: classifier.Detected,
			CommandID:  cands[0].CommandID,
			PhraseID:   cands[0].PhraseID,
		})
	default:
		log.Error("recognizer: unhandled classifier state", "state", st.String())
	}
}

// enqueue offers r to the dispatcher without waiting.
func (c *Controller) enqueue(s *session, log *slog.Logger, r Result) {
	if s.queue.TrySend(r) {
		c.enqueued.Add(1)
		c.cfg.Metrics.RecordResult(s.ctx, "enqueued")
		return
	}
	c.dropped.Add(1)
	c.cfg.Metrics.RecordResult(s.ctx, "dropped")
	log.Debug("recognizer: result queue full, dropping result",
		"wake", r.Wake.String(),
		"classifier", r.Classifier.String(),
	)
}
