// Package resilience guards speech-to-text engines against repeated failure.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open). A
// [Group] pairs an ordered list of engines with one breaker each and runs a
// call against the first engine whose breaker admits it. [Transcriber] wraps
// a group of [transcribe.Transcriber] values so the wake detector and the
// command classifier keep working when the primary engine stalls.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen admits a limited number of probe calls. One failed probe
	// re-opens the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. The
	// default ignores context.Canceled, which only means the caller gave up.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's mutex released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeOK     int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs fn when the breaker admits the call and records its outcome.
// A rejected call returns [ErrCircuitOpen] without running fn.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	halfOpened := false
	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.probeOK = 0, 0
		halfOpened = true
	}
	probing := b.state == StateHalfOpen
	if probing && b.probes >= b.cfg.HalfOpenMax {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	if probing {
		b.probes++
	}
	b.mu.Unlock()
	if halfOpened {
		b.notify(StateOpen, StateHalfOpen)
	}

	err := fn()

	b.mu.Lock()
	before := b.state
	switch {
	case err != nil && b.cfg.IsFailure(err):
		b.recordFailure(probing)
	case err == nil:
		b.recordSuccess(probing)
	}
	after := b.state
	b.mu.Unlock()
	b.notify(before, after)

	return err
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool) {
	b.lastFailure = b.cfg.Now()
	if probing {
		b.state = StateOpen
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.state = StateOpen
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	b.probeOK++
	if b.probeOK >= b.cfg.HalfOpenMax && b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = 0
		b.probes, b.probeOK = 0, 0
	}
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state changed", "name", b.cfg.Name, "from", from, "to", to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probes, b.probeOK = 0, 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}
