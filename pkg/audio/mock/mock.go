// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Source replays scripted steps (data or errors) and then, by default,
// produces silence at a fixed pace so feed loops keep spinning. Set Block to
// make Fill wait for cancellation instead, which simulates a stalled
// microphone driver.
//
// Typical usage:
//
//	src := &mock.Source{Steps: []mock.Step{{Err: errors.New("driver hiccup")}}}
//	n, err := src.Fill(ctx, buf, 0)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
)

// Step is one scripted Fill outcome.
type Step struct {
	// Data is copied into the caller's buffer. A nil Data with a nil Err
	// fills the buffer with silence.
	Data []byte

	// Err is returned instead of data when non-nil.
	Err error
}

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Steps are consumed front to back by Fill.
	Steps []Step

	// Interval paces silence once Steps are exhausted. Zero means 1ms.
	Interval time.Duration

	// Block makes Fill wait for ctx or Close once Steps are exhausted.
	Block bool

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	closed chan struct{}
	once   sync.Once

	// FillCallCount records how many times Fill was called.
	FillCallCount int

	// CloseCallCount records how many times Close was called.
	CloseCallCount int
}

func (s *Source) closedCh() chan struct{} {
	s.once.Do(func() { s.closed = make(chan struct{}) })
	return s.closed
}

// Fill replays the next Step or produces silence.
func (s *Source) Fill(ctx context.Context, out []byte, _ time.Duration) (int, error) {
	closed := s.closedCh()

	s.mu.Lock()
	s.FillCallCount++
	var step *Step
	if len(s.Steps) > 0 {
		st := s.Steps[0]
		s.Steps = s.Steps[1:]
		step = &st
	}
	block := s.Block
	interval := s.Interval
	s.mu.Unlock()

	select {
	case <-closed:
		return 0, audio.ErrSourceClosed
	default:
	}

	if step != nil {
		if step.Err != nil {
			return 0, step.Err
		}
		if step.Data != nil {
			return copy(out, step.Data), nil
		}
		clear(out)
		return len(out), nil
	}

	if block {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-closed:
			return 0, audio.ErrSourceClosed
		}
	}

	if interval <= 0 {
		interval = time.Millisecond
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-closed:
		return 0, audio.ErrSourceClosed
	case <-time.After(interval):
	}
	clear(out)
	return len(out), nil
}

// Close records the call, unblocks pending Fill calls and returns CloseErr.
func (s *Source) Close() error {
	closed := s.closedCh()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	select {
	case <-closed:
	default:
		close(closed)
	}
	return s.CloseErr
}

// Fills returns the number of Fill calls so far.
func (s *Source) Fills() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FillCallCount
}

var _ audio.Source = (*Source)(nil)

// Sink is an in-memory [audio.Sink] that records written bytes.
type Sink struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write.
	WriteErr error

	// Data holds everything written so far.
	Data []byte

	// CloseCallCount records how many times Close was called.
	CloseCallCount int
}

// Write appends p to Data unless WriteErr is set.
func (k *Sink) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.WriteErr != nil {
		return 0, k.WriteErr
	}
	k.Data = append(k.Data, p...)
	return len(p), nil
}

// Close records the call.
func (k *Sink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.CloseCallCount++
	return nil
}

var _ audio.Sink = (*Sink)(nil)
