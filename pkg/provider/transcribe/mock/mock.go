// Package mock provides a test double for the transcribe.Transcriber
// interface.
//
// Transcriber returns scripted texts front to back and records the length of
// every utterance it was asked to transcribe.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/transcribe"
)

// Transcriber is a mock implementation of transcribe.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts are returned front to back. Once exhausted, Default is returned.
	Texts []string

	// Default is returned when Texts is empty.
	Default string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Calls records the sample count of every Transcribe call.
	Calls []int

	// CloseCallCount records how many times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the next scripted text.
func (m *Transcriber) Transcribe(_ context.Context, samples []int16) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, len(samples))
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Texts) == 0 {
		return m.Default, nil
	}
	t := m.Texts[0]
	m.Texts = m.Texts[1:]
	return t, nil
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Close records the call.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return nil
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
