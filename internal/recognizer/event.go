package recognizer

import (
	"context"

	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
)

// EventKind identifies a recognizer event.
type EventKind int

const (
	// EventWakeWord reports a detected wake phrase.
	EventWakeWord EventKind = iota

	// EventWakeWordChannel reports a wake phrase verified on a channel.
	// Event.CommandID holds the channel index.
	EventWakeWordChannel

	// EventCommand reports a classified command.
	EventCommand

	// EventTimeout reports that command listening ended without a match.
	EventTimeout
)

// String returns a lower-case label suitable for logs, metrics and JSON.
func (k EventKind) String() string {
	switch k {
	case EventWakeWord:
		return "wake_word"
	case EventWakeWordChannel:
		return "wake_word_channel"
	case EventCommand:
		return "command"
	case EventTimeout:
		return "timeout"
	}
	return "unknown"
}

// Event is delivered to the [EventHandler]. Identifiers that do not apply to
// the kind are -1.
type Event struct {
	Kind      EventKind
	CommandID int
	PhraseID  int
}

// EventHandler receives recognizer events. It runs on the dispatcher
// goroutine: events are delivered one at a time, in order, and a slow handler
// delays every later event while new results are dropped once three are
// pending. Panics are not recovered and terminate the process. The handler
// may call SetMode, Pause and Resume but must not call Stop.
//
// ctx is cancelled when the session stops. Stop waits for a running handler
// call to return, so a handler that blocks without watching ctx delays Stop
// by the same amount.
type EventHandler func(ctx context.Context, ev Event)

// Result is one detection outcome passed from the detect worker to the
// dispatcher.
type Result struct {
	Wake       frontend.WakeState
	Classifier classifier.State
	CommandID  int
	PhraseID   int
}

// event maps r to the event it announces. ok is false for results that
// carry nothing to dispatch.
func (r Result) event() (ev Event, ok bool) {
	switch {
	case r.Wake == frontend.WakeDetected:
		return Event{Kind: EventWakeWord, CommandID: -1, PhraseID: -1}, true
	case r.Wake == frontend.WakeChannelVerified:
		return Event{Kind: EventWakeWordChannel, CommandID: r.CommandID, PhraseID: -1}, true
	case r.Classifier == classifier.Detected:
		return Event{Kind: EventCommand, CommandID: r.CommandID, PhraseID: r.PhraseID}, true
	case r.Classifier == classifier.Timeout:
		return Event{Kind: EventTimeout, CommandID: -1, PhraseID: -1}, true
	}
	return Event{}, false
}
