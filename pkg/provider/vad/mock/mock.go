// Package mock provides scripted VAD engines for front-end and classifier
// tests.
//
//	sess := &mock.Session{Events: mock.Utterance(3), Default: mock.Quiet}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// Quiet is a silent frame result, handy as Session.Default.
var Quiet = vad.Event{Type: vad.Silence}

// Utterance scripts one speech segment: a start, speech-1 continuations and
// an end. speech values below 1 are treated as 1.
func Utterance(speech int) []vad.Event {
	evs := make([]vad.Event, 0, max(speech, 1)+1)
	evs = append(evs, vad.Event{Type: vad.SpeechStart, Probability: 1})
	for range speech - 1 {
		evs = append(evs, vad.Event{Type: vad.SpeechContinue, Probability: 1})
	}
	return append(evs, vad.Event{Type: vad.SpeechEnd})
}

// Engine hands out Session, or a fresh silent one when Session is nil.
type Engine struct {
	mu sync.Mutex

	Session vad.SessionHandle

	// NewSessionErr fails every NewSession call.
	NewSessionErr error

	// NewSessionCalls holds the config of each NewSession call.
	NewSessionCalls []vad.Config
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	default:
		return &Session{Default: Quiet}, nil
	}
}

var _ vad.Engine = (*Engine)(nil)

// Session replays Events one per frame, then answers Default. The zero
// Default is SpeechStart, so silent tests set it to Quiet.
type Session struct {
	mu sync.Mutex

	Events  []vad.Event
	Default vad.Event

	// Err fails every ProcessFrame call.
	Err error

	// Frames holds the length of each processed frame.
	Frames []int

	ResetCallCount int
	CloseCallCount int
}

func (s *Session) ProcessFrame(frame []int16) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, len(frame))
	if s.Err != nil {
		return vad.Event{}, s.Err
	}
	if len(s.Events) == 0 {
		return s.Default, nil
	}
	ev := s.Events[0]
	s.Events = s.Events[1:]
	return ev, nil
}

// FrameCount returns how many frames were processed.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)
