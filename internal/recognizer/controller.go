// Package recognizer is the speech-recognition session controller.
//
// A [Controller] owns at most one session. A session ties an audio source to
// a front-end engine and an optional command classifier and runs three
// goroutines:
//
//   - the feed worker reads fixed-size chunks from the source and feeds the
//     front end, in every mode, so the engine's adaptive state stays warm;
//   - the detect worker fetches processed frames, interprets them according
//     to the current [Mode] and produces results;
//   - the dispatcher drains a bounded result queue and calls the
//     [EventHandler].
//
// The detect worker never blocks on the dispatcher: when three results are
// pending, new ones are dropped. Workers check for termination once per
// iteration, so Stop completes as soon as a blocked audio read returns. Stop
// cancels the context passed to the source to make that prompt.
//
// Lifecycle:
//
//	c := recognizer.New(recognizer.Config{FrontEnd: fe, Classifier: cl})
//	if err := c.Setup(src, recognizer.ModeWakeWord, command.Defaults(), onEvent); err != nil { ... }
//	if err := c.Start(-1, -1); err != nil { ... }
//	...
//	_ = c.Stop()
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
)

const (
	defaultRetryDelay      = 100 * time.Millisecond
	defaultTick            = 10 * time.Millisecond
	defaultSpawnDelayTicks = 10
	defaultMaxDuration     = 5760 * time.Millisecond
)

// Config configures a [Controller].
type Config struct {
	// FrontEnd creates the audio front end for each session. Required.
	FrontEnd frontend.Factory

	// FrontEndConfig is passed to FrontEnd. WakeWord is set by Setup from the
	// initial mode.
	FrontEndConfig frontend.Config

	// Classifier creates the command classifier. Nil runs without command
	// classification, as does a factory returning [classifier.ErrNoModel].
	Classifier classifier.Factory

	// ClassifierConfig is passed to Classifier. MaxDuration defaults to
	// 5.76s.
	ClassifierConfig classifier.Config

	// Metrics receives recognizer metrics. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// RetryDelay is the pause after a failed audio read. Default 100ms.
	RetryDelay time.Duration

	// Tick is the pause after a failed fetch. Default 10ms.
	Tick time.Duration

	// SpawnDelay separates the start of the feed and detect workers so the
	// front end holds audio before the first fetch. Default 10 ticks.
	SpawnDelay time.Duration

	// Fatal handles unrecoverable configuration errors detected by a worker.
	// The default panics.
	Fatal func(error)
}

func (c Config) withDefaults() Config {
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Tick <= 0 {
		c.Tick = defaultTick
	}
	if c.SpawnDelay <= 0 {
		c.SpawnDelay = defaultSpawnDelayTicks * c.Tick
	}
	if c.ClassifierConfig.MaxDuration <= 0 {
		c.ClassifierConfig.MaxDuration = defaultMaxDuration
	}
	if c.Fatal == nil {
		c.Fatal = func(err error) { panic(err) }
	}
	return c
}

// Stats is a snapshot of controller counters. Counters accumulate across
// sessions.
type Stats struct {
	// Enqueued and Dropped count results offered to the queue.
	Enqueued int64
	Dropped  int64

	// Dispatched counts events delivered to the handler.
	Dispatched int64

	// FetchFailures and FillFailures count recovered worker errors.
	FetchFailures int64
	FillFailures  int64

	// OpenHandles is the number of front ends and classifiers not yet
	// closed.
	OpenHandles int64

	// QueueLen is the number of results waiting for the dispatcher.
	QueueLen int
}

// Controller runs recognizer sessions. Create one per microphone with [New].
// All methods are safe for concurrent use.
type Controller struct {
	cfg Config

	// lifecycle serialises Setup, Start and Stop.
	lifecycle sync.Mutex
	sess      atomic.Pointer[session]

	enqueued      atomic.Int64
	dropped       atomic.Int64
	dispatched    atomic.Int64
	fetchFailures atomic.Int64
	fillFailures  atomic.Int64
	openHandles   atomic.Int64

	vadState   atomic.Int32
	lastSpeech atomic.Int64
}

// New returns a Controller without a session.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg.withDefaults()}
}

// session is everything owned by one Setup..Stop cycle.
type session struct {
	source  audio.Source
	onEvent EventHandler

	fe       frontend.FrontEnd
	cl       classifier.Classifier
	registry *command.Registry

	queue      *resultQueue
	stop       *token
	feedGate   *gate
	detectGate *gate

	// ctx is passed to the source and the handler. Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// modeMu serialises mode transitions with their front-end side effects
	// and with releasing the front end.
	modeMu   sync.Mutex
	mode     atomic.Int32
	released bool

	stopping atomic.Bool
	started  bool

	// acks holds the exit acknowledgement of every worker launched.
	acks []*token
}

func (s *session) currentMode() Mode { return Mode(s.mode.Load()) }

// Setup creates a session in the given mode and installs commands into the
// classifier. Commands that fail validation or that the classifier rejects
// are logged and skipped. onEvent may be nil, in which case events are
// discarded.
func (c *Controller) Setup(source audio.Source, mode Mode, commands []command.Command, onEvent EventHandler) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.sess.Load() != nil {
		return ErrAlreadyRunning
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int32(mode))
	}
	if source == nil {
		return errors.New("recognizer: audio source is required")
	}
	if c.cfg.FrontEnd == nil {
		return errors.New("recognizer: front-end factory is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		source:     source,
		onEvent:    onEvent,
		queue:      newResultQueue(queueCapacity),
		stop:       newToken(),
		feedGate:   newGate(),
		detectGate: newGate(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.mode.Store(int32(mode))

	feCfg := c.cfg.FrontEndConfig
	feCfg.WakeWord = mode == ModeWakeWord
	fe, err := c.cfg.FrontEnd.New(feCfg)
	if err != nil {
		c.release(s)
		return fmt.Errorf("recognizer: create front end: %w: %w", ErrResourceExhausted, err)
	}
	s.fe = fe
	c.openHandles.Add(1)
	if fe.FeedChunkSize() <= 0 || fe.FetchChunkSize() <= 0 {
		c.release(s)
		return fmt.Errorf("recognizer: front end chunk sizes %d/%d: %w",
			fe.FeedChunkSize(), fe.FetchChunkSize(), ErrResourceExhausted)
	}

	registry, verr := command.Build(commands)
	if verr != nil {
		slog.Warn("recognizer: skipping invalid commands", "err", verr)
	}
	s.registry = registry

	if c.cfg.Classifier != nil {
		cl, err := c.cfg.Classifier.New(c.cfg.ClassifierConfig)
		switch {
		case errors.Is(err, classifier.ErrNoModel):
			slog.Info("recognizer: no command model, running without classifier")
		case err != nil:
			c.release(s)
			return fmt.Errorf("recognizer: create classifier: %w: %w", ErrResourceExhausted, err)
		default:
			s.cl = cl
			c.openHandles.Add(1)
			registry.Install(cl)
		}
	}

	c.sess.Store(s)
	c.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("recognizer: session set up",
		"mode", mode.String(),
		"feed_chunk", fe.FeedChunkSize(),
		"fetch_chunk", fe.FetchChunkSize(),
		"classifier", s.cl != nil,
		"commands", registry.Len(),
	)
	return nil
}

// Start launches the workers. feedCPU pins the feed worker and the
// dispatcher, detectCPU the detect worker; -1 leaves a worker unpinned. When
// a worker cannot be launched the session is stopped and
// [ErrTaskCreationFailed] returned.
func (c *Controller) Start(feedCPU, detectCPU int) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	s := c.sess.Load()
	if s == nil || s.stopping.Load() {
		return ErrNotRunning
	}
	if s.started {
		return ErrAlreadyRunning
	}
	s.started = true

	if err := c.spawn(s, "feed", feedCPU, func() { c.feedLoop(s) }); err != nil {
		c.stopLocked(s)
		return fmt.Errorf("recognizer: start feed worker: %w: %w", ErrTaskCreationFailed, err)
	}

	select {
	case <-time.After(c.cfg.SpawnDelay):
	case <-s.stop.Done():
	}

	if err := c.spawn(s, "detect", detectCPU, func() { c.detectLoop(s) }); err != nil {
		c.stopLocked(s)
		return fmt.Errorf("recognizer: start detect worker: %w: %w", ErrTaskCreationFailed, err)
	}
	if err := c.spawn(s, "dispatch", feedCPU, func() { c.dispatchLoop(s) }); err != nil {
		c.stopLocked(s)
		return fmt.Errorf("recognizer: start dispatcher: %w: %w", ErrTaskCreationFailed, err)
	}

	slog.Info("recognizer: started", "feed_cpu", feedCPU, "detect_cpu", detectCPU)
	return nil
}

// spawn launches run on a new goroutine pinned to cpu and waits until the
// goroutine is running. run must fire the acknowledgement spawn registers for
// it; spawn fires it itself when pinning fails.
func (c *Controller) spawn(s *session, name string, cpu int, run func()) error {
	ack := newToken()
	s.acks = append(s.acks, ack)
	if cpu >= runtime.NumCPU() {
		ack.Fire()
		return fmt.Errorf("cpu %d out of range, %d available", cpu, runtime.NumCPU())
	}

	ready := make(chan error, 1)
	go func() {
		defer ack.Fire()
		if err := pinToCPU(cpu); err != nil {
			ready <- err
			return
		}
		ready <- nil
		slog.Debug("recognizer: worker running", "component", name, "cpu", cpu)
		run()
	}()
	return <-ready
}

// SetMode switches the session mode and applies the transition's side effect
// on the front end's wake-phrase spotting. Setting the current mode again is
// allowed and fires no side effect.
func (c *Controller) SetMode(m Mode) error {
	s := c.sess.Load()
	if s == nil || s.stopping.Load() {
		return ErrNotRunning
	}
	return c.setMode(s, m)
}

func (c *Controller) setMode(s *session, m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int32(m))
	}

	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	if s.released {
		return ErrNotRunning
	}

	cur := s.currentMode()
	switch m {
	case ModeOff, ModeCommand:
		if cur == ModeWakeWord {
			s.fe.DisableWakeNet()
		}
	case ModeWakeWord:
		if cur != ModeWakeWord {
			s.fe.EnableWakeNet()
		}
	}
	s.mode.Store(int32(m))

	if cur != m {
		c.cfg.Metrics.RecordModeTransition(s.ctx, cur.String(), m.String())
		slog.Debug("recognizer: mode changed", "from", cur.String(), "to", m.String())
	}
	return nil
}

// Mode returns the current session mode.
func (c *Controller) Mode() (Mode, error) {
	s := c.sess.Load()
	if s == nil {
		return ModeOff, ErrNotRunning
	}
	return s.currentMode(), nil
}

// Pause parks the feed and detect workers at their next loop check.
func (c *Controller) Pause() error {
	s := c.sess.Load()
	if s == nil || s.stopping.Load() {
		return ErrNotRunning
	}
	s.feedGate.Pause()
	s.detectGate.Pause()
	slog.Info("recognizer: paused")
	return nil
}

// Resume releases workers parked by Pause.
func (c *Controller) Resume() error {
	s := c.sess.Load()
	if s == nil || s.stopping.Load() {
		return ErrNotRunning
	}
	s.feedGate.Resume()
	s.detectGate.Resume()
	slog.Info("recognizer: resuming")
	return nil
}

// Stop tears the session down. It requests termination, waits until the
// dispatcher and the feed and detect workers acknowledged, and then closes
// the classifier and the front end. Stop blocks for as long as the audio
// source ignores the cancelled context or an [EventHandler] call is still
// running. Once a session exists, Stop always succeeds; close errors are
// logged.
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	s := c.sess.Load()
	if s == nil {
		return ErrNotRunning
	}
	c.stopLocked(s)
	return nil
}

// stopLocked runs the teardown. The caller holds c.lifecycle.
func (c *Controller) stopLocked(s *session) {
	s.stopping.Store(true)
	s.stop.Fire()
	s.cancel()

	// Unparks paused workers too: gate waits observe the stop token.
	for _, ack := range s.acks {
		<-ack.Done()
	}

	c.release(s)
	c.sess.Store(nil)
	c.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("recognizer: stopped")
}

// release closes the session's engines. It is also the rollback path of a
// failed Setup.
func (c *Controller) release(s *session) {
	s.cancel()

	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	if s.released {
		return
	}
	s.released = true

	if s.cl != nil {
		if err := s.cl.Close(); err != nil {
			slog.Warn("recognizer: close classifier", "err", err)
		}
		c.openHandles.Add(-1)
		s.cl = nil
	}
	if s.fe != nil {
		if err := s.fe.Close(); err != nil {
			slog.Warn("recognizer: close front end", "err", err)
		}
		c.openHandles.Add(-1)
	}
}

// Running reports whether a session exists and is not stopping.
func (c *Controller) Running() bool {
	s := c.sess.Load()
	return s != nil && !s.stopping.Load()
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	st := Stats{
		Enqueued:      c.enqueued.Load(),
		Dropped:       c.dropped.Load(),
		Dispatched:    c.dispatched.Load(),
		FetchFailures: c.fetchFailures.Load(),
		FillFailures:  c.fillFailures.Load(),
		OpenHandles:   c.openHandles.Load(),
	}
	if s := c.sess.Load(); s != nil {
		st.QueueLen = s.queue.Len()
	}
	return st
}

// LastSpeech returns when the front end last reported speech, or the zero
// time. It survives session restarts.
func (c *Controller) LastSpeech() time.Time {
	ns := c.lastSpeech.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// VADState returns the voice activity state of the most recent frame.
func (c *Controller) VADState() frontend.VADState {
	return frontend.VADState(c.vadState.Load())
}

// Command looks up an installed command of the current session.
func (c *Controller) Command(id int) (command.Command, bool) {
	s := c.sess.Load()
	if s == nil || s.registry == nil {
		return command.Command{}, false
	}
	return s.registry.Lookup(id)
}

// Commands returns the commands installed for the current session, or nil
// when no session is set up.
func (c *Controller) Commands() []command.Command {
	s := c.sess.Load()
	if s == nil || s.registry == nil {
		return nil
	}
	return s.registry.Commands()
}

// sleep waits for d or until the session stops.
func (s *session) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.stop.Done():
	}
}
