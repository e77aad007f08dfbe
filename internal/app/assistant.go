package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/events"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/recognizer"
)

// modeController is the part of the recognizer the assistant drives.
type modeController interface {
	SetMode(recognizer.Mode) error
	Mode() (recognizer.Mode, error)
	Command(id int) (command.Command, bool)
}

// publisher receives assistant messages.
type publisher interface {
	Publish(events.Message) error
}

// Assistant is the event consumer of a recognizer session. It moves the
// recognizer from wake-word listening to command listening and back, and
// publishes every event.
type Assistant struct {
	ctrl     modeController
	pub      publisher
	followUp atomic.Int32
	now      func() time.Time
}

// NewAssistant returns an Assistant that enters followUp after a command or
// a timeout was handled. pub may be nil.
func NewAssistant(ctrl modeController, pub publisher, followUp recognizer.Mode) *Assistant {
	a := &Assistant{ctrl: ctrl, pub: pub, now: time.Now}
	a.followUp.Store(int32(followUp))
	return a
}

// SetFollowUp changes the mode entered after a command or a timeout.
func (a *Assistant) SetFollowUp(m recognizer.Mode) {
	a.followUp.Store(int32(m))
}

// FollowUp returns the mode entered after a command or a timeout.
func (a *Assistant) FollowUp() recognizer.Mode {
	return recognizer.Mode(a.followUp.Load())
}

// Handle is a [recognizer.EventHandler].
func (a *Assistant) Handle(ctx context.Context, ev recognizer.Event) {
	log := observe.Logger(ctx).With("event", ev.Kind.String())

	msg := events.Message{
		Kind:      ev.Kind.String(),
		CommandID: ev.CommandID,
		PhraseID:  ev.PhraseID,
		Time:      a.now().UTC(),
	}

	var next recognizer.Mode
	switch ev.Kind {
	case recognizer.EventWakeWord, recognizer.EventWakeWordChannel:
		next = recognizer.ModeCommand
		log.Info("wake word heard", "channel", ev.CommandID)
	case recognizer.EventCommand:
		next = a.FollowUp()
		if cmd, ok := a.ctrl.Command(ev.CommandID); ok {
			msg.Text = cmd.Text
		}
		log.Info("command recognized", "command_id", ev.CommandID, "phrase_id", ev.PhraseID, "text", msg.Text)
	case recognizer.EventTimeout:
		next = a.FollowUp()
		log.Info("command listening timed out")
	default:
		log.Warn("ignoring unknown event")
		return
	}

	if err := a.ctrl.SetMode(next); err != nil {
		log.Warn("set mode failed", "mode", next.String(), "err", err)
	}
	if m, err := a.ctrl.Mode(); err == nil {
		msg.Mode = m.String()
	}

	if a.pub == nil {
		return
	}
	if err := a.pub.Publish(msg); err != nil {
		log.Debug("publish event failed", "err", err)
	}
}
