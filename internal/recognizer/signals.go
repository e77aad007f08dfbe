package recognizer

import (
	"sync"
	"sync/atomic"
)

// token is a one-shot signal. Firing it more than once has no effect.
type token struct {
	ch   chan struct{}
	once sync.Once
}

func newToken() *token {
	return &token{ch: make(chan struct{})}
}

// Fire closes the token.
func (t *token) Fire() {
	t.once.Do(func() { close(t.ch) })
}

// Done is closed once the token fired.
func (t *token) Done() <-chan struct{} { return t.ch }

// Fired reports without blocking whether the token fired.
func (t *token) Fired() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// gate parks one worker between a pause request and the matching resume.
// A resume issued while the gate is open has no effect. Pause and Resume
// change the paused flag under mu, so a pause that follows a resume is never
// undone by the worker it released.
type gate struct {
	mu     sync.Mutex
	paused atomic.Bool
	resume chan struct{}
}

func newGate() *gate {
	return &gate{resume: make(chan struct{}, 1)}
}

// Pause requests that the worker park at its next check.
func (g *gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.resume:
	default:
	}
	g.paused.Store(true)
}

// Resume clears a pending pause and releases the worker parked on it.
func (g *gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused.Load() {
		return
	}
	g.paused.Store(false)
	select {
	case g.resume <- struct{}{}:
	default:
	}
}

// Paused reports whether a pause was requested.
func (g *gate) Paused() bool { return g.paused.Load() }

// Wait blocks until Resume clears the pause. It returns false when stop
// fired first.
func (g *gate) Wait(stop <-chan struct{}) bool {
	select {
	case <-g.resume:
		return true
	case <-stop:
		return false
	}
}
