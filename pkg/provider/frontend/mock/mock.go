// Package mock provides test doubles for the frontend package interfaces.
//
// Engine serves scripted fetch results pushed through Push and records every
// Feed, EnableWakeNet, DisableWakeNet and Close call. Factory hands out
// Engines and keeps every instance it created so tests can verify that each
// one was closed.
//
// Example:
//
//	eng := mock.NewEngine(512, 512)
//	eng.Push(&frontend.FetchResult{WakeState: frontend.WakeDetected, OK: true})
//	fac := &mock.Factory{Engine: eng}
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/frontend"
)

// defaultFetchWait bounds how long Fetch waits for a scripted result.
const defaultFetchWait = 5 * time.Millisecond

// Engine is a mock implementation of frontend.FrontEnd.
type Engine struct {
	results chan fetchItem

	mu sync.Mutex

	feedChunk  int
	fetchChunk int

	// FetchWait bounds Fetch when no result is queued. Zero uses 5ms.
	FetchWait time.Duration

	// FeedErr, if non-nil, is returned by every Feed call.
	FeedErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// FeedCallCount is the number of times Feed was called.
	FeedCallCount int

	// FedSamples is the total number of samples passed to Feed.
	FedSamples int

	// FetchCallCount is the number of times Fetch was called.
	FetchCallCount int

	// EnableCallCount is the number of times EnableWakeNet was called.
	EnableCallCount int

	// DisableCallCount is the number of times DisableWakeNet was called.
	DisableCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

type fetchItem struct {
	res *frontend.FetchResult
	err error
}

// NewEngine returns an Engine reporting the given chunk sizes.
func NewEngine(feedChunk, fetchChunk int) *Engine {
	return &Engine{
		results:    make(chan fetchItem, 1024),
		feedChunk:  feedChunk,
		fetchChunk: fetchChunk,
	}
}

// Push queues res to be returned by a later Fetch call.
func (e *Engine) Push(res *frontend.FetchResult) {
	e.results <- fetchItem{res: res}
}

// PushErr queues err to be returned by a later Fetch call.
func (e *Engine) PushErr(err error) {
	e.results <- fetchItem{err: err}
}

// Pending returns the number of queued results not yet fetched.
func (e *Engine) Pending() int {
	return len(e.results)
}

// Feed records the call and returns FeedErr.
func (e *Engine) Feed(samples []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.FeedCallCount++
	e.FedSamples += len(samples)
	return e.FeedErr
}

// Fetch returns the next queued result or frontend.ErrNoData once FetchWait
// elapses.
func (e *Engine) Fetch() (*frontend.FetchResult, error) {
	e.mu.Lock()
	e.FetchCallCount++
	wait := e.FetchWait
	e.mu.Unlock()
	if wait <= 0 {
		wait = defaultFetchWait
	}

	select {
	case it := <-e.results:
		return it.res, it.err
	case <-time.After(wait):
		return nil, frontend.ErrNoData
	}
}

// EnableWakeNet records the call.
func (e *Engine) EnableWakeNet() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EnableCallCount++
}

// DisableWakeNet records the call.
func (e *Engine) DisableWakeNet() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DisableCallCount++
}

// FeedChunkSize returns the configured feed chunk size.
func (e *Engine) FeedChunkSize() int { return e.feedChunk }

// FetchChunkSize returns the configured fetch chunk size.
func (e *Engine) FetchChunkSize() int { return e.fetchChunk }

// Close records the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// Counts returns a consistent snapshot of the enable, disable and close
// counters.
func (e *Engine) Counts() (enable, disable, closed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.EnableCallCount, e.DisableCallCount, e.CloseCallCount
}

// Feeds returns the number of Feed calls so far.
func (e *Engine) Feeds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FeedCallCount
}

// Fed returns the total number of samples passed to Feed so far.
func (e *Engine) Fed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FedSamples
}

// Ensure Engine implements frontend.FrontEnd at compile time.
var _ frontend.FrontEnd = (*Engine)(nil)

// NewCall records a single invocation of Factory.New.
type NewCall struct {
	Cfg frontend.Config
}

// Factory is a mock implementation of frontend.Factory.
type Factory struct {
	mu sync.Mutex

	// Engine is returned by New when non-nil. Otherwise New creates a fresh
	// Engine with FeedChunk and FetchChunk sizes.
	Engine *Engine

	// FeedChunk and FetchChunk size engines created by New. Zero means 512.
	FeedChunk  int
	FetchChunk int

	// NewErr, if non-nil, is returned as the error from New.
	NewErr error

	// NewCalls records every call to New in order.
	NewCalls []NewCall

	// Created holds every engine returned by New.
	Created []*Engine
}

// New records the call and returns an Engine or NewErr.
func (f *Factory) New(cfg frontend.Config) (frontend.FrontEnd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NewCalls = append(f.NewCalls, NewCall{Cfg: cfg})
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	eng := f.Engine
	if eng == nil {
		feed, fetch := f.FeedChunk, f.FetchChunk
		if feed == 0 {
			feed = 512
		}
		if fetch == 0 {
			fetch = 512
		}
		eng = NewEngine(feed, fetch)
	}
	f.Created = append(f.Created, eng)
	return eng, nil
}

// Engines returns a copy of every engine created so far.
func (f *Factory) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Engine, len(f.Created))
	copy(out, f.Created)
	return out
}

// Ensure Factory implements frontend.Factory at compile time.
var _ frontend.Factory = (*Factory)(nil)
