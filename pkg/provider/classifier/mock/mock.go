// Package mock provides test doubles for the classifier package interfaces.
//
// Classifier replays a scripted sequence of States from Detect and returns
// Candidates from Results. Once the script is exhausted Detect keeps
// returning classifier.Detecting.
package mock

import (
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// AddCommandCall records a single invocation of Classifier.AddCommand.
type AddCommandCall struct {
	ID      int
	Phoneme string
}

// Classifier is a mock implementation of classifier.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Chunk is returned by ChunkSize.
	Chunk int

	// Script is consumed front to back by Detect.
	Script []classifier.State

	// Candidates is returned by Results.
	Candidates []classifier.Candidate

	// AddErr, if non-nil, is returned by every AddCommand call.
	AddErr error

	// Reject lists the command IDs CommitCommands reports as rejected.
	Reject map[int]string

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// DetectCallCount is the number of times Detect was called.
	DetectCallCount int

	// ClearCallCount is the number of times ClearCommands was called.
	ClearCallCount int

	// AddCommandCalls records every call to AddCommand in order.
	AddCommandCalls []AddCommandCall

	// CommitCallCount is the number of times CommitCommands was called.
	CommitCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Detect pops the next scripted state.
func (c *Classifier) Detect(_ []int16) classifier.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DetectCallCount++
	if len(c.Script) == 0 {
		return classifier.Detecting
	}
	s := c.Script[0]
	c.Script = c.Script[1:]
	return s
}

// Results returns a copy of Candidates.
func (c *Classifier) Results() []classifier.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]classifier.Candidate, len(c.Candidates))
	copy(out, c.Candidates)
	return out
}

// ChunkSize returns Chunk.
func (c *Classifier) ChunkSize() int { return c.Chunk }

// ClearCommands records the call.
func (c *Classifier) ClearCommands() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClearCallCount++
	c.AddCommandCalls = nil
}

// AddCommand records the call and returns AddErr.
func (c *Classifier) AddCommand(id int, phoneme string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AddCommandCalls = append(c.AddCommandCalls, AddCommandCall{ID: id, Phoneme: phoneme})
	return c.AddErr
}

// CommitCommands records the call and reports the staged commands listed in
// Reject.
func (c *Classifier) CommitCommands() []classifier.Rejection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CommitCallCount++
	var out []classifier.Rejection
	for _, call := range c.AddCommandCalls {
		if reason, ok := c.Reject[call.ID]; ok {
			out = append(out, classifier.Rejection{CommandID: call.ID, Phoneme: call.Phoneme, Reason: reason})
		}
	}
	return out
}

// Close records the call and returns CloseErr.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return c.CloseErr
}

// Closed returns the number of Close calls so far.
func (c *Classifier) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCallCount
}

// Ensure Classifier implements classifier.Classifier at compile time.
var _ classifier.Classifier = (*Classifier)(nil)

// Factory is a mock implementation of classifier.Factory.
type Factory struct {
	mu sync.Mutex

	// Classifier is returned by New when non-nil. Otherwise New creates a
	// fresh Classifier with ChunkSize Chunk.
	Classifier *Classifier

	// Chunk sizes classifiers created by New. Zero means 512.
	Chunk int

	// NewErr, if non-nil, is returned as the error from New.
	NewErr error

	// NewCalls records every Config passed to New.
	NewCalls []classifier.Config

	// Created holds every classifier returned by New.
	Created []*Classifier
}

// New records the call and returns a Classifier or NewErr.
func (f *Factory) New(cfg classifier.Config) (classifier.Classifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NewCalls = append(f.NewCalls, cfg)
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := f.Classifier
	if c == nil {
		chunk := f.Chunk
		if chunk == 0 {
			chunk = 512
		}
		c = &Classifier{Chunk: chunk}
	}
	f.Created = append(f.Created, c)
	return c, nil
}

// Classifiers returns a copy of every classifier created so far.
func (f *Factory) Classifiers() []*Classifier {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Classifier, len(f.Created))
	copy(out, f.Created)
	return out
}

// Ensure Factory implements classifier.Factory at compile time.
var _ classifier.Factory = (*Factory)(nil)
