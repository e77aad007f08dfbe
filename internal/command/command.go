// Package command holds the fixed set of voice commands a recognizer session
// can classify, and installs them into a [classifier.Classifier].
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// MaxLen is the longest text or phoneme accepted, in bytes.
const MaxLen = 63

// Command is one recognisable voice command.
type Command struct {
	// ID is reported in command events. IDs are unique within a registry.
	ID int `yaml:"id"`

	// Text is the human-readable label shown to users.
	Text string `yaml:"text"`

	// Phoneme is the pronunciation handed to the classifier. Empty means Text.
	Phoneme string `yaml:"phoneme"`
}

// Validate reports problems with a single command.
func (c Command) Validate() error {
	var errs []error
	if c.ID < 0 {
		errs = append(errs, fmt.Errorf("command %d: id must not be negative", c.ID))
	}
	if c.Text == "" {
		errs = append(errs, fmt.Errorf("command %d: text is required", c.ID))
	}
	if len(c.Text) > MaxLen {
		errs = append(errs, fmt.Errorf("command %d: text is %d bytes, max %d", c.ID, len(c.Text), MaxLen))
	}
	if len(c.Phoneme) > MaxLen {
		errs = append(errs, fmt.Errorf("command %d: phoneme is %d bytes, max %d", c.ID, len(c.Phoneme), MaxLen))
	}
	return errors.Join(errs...)
}

// pronunciation returns the phoneme, falling back to the text.
func (c Command) pronunciation() string {
	if c.Phoneme != "" {
		return c.Phoneme
	}
	return c.Text
}

// Defaults returns the built-in command table.
func Defaults() []Command {
	return []Command{
		{ID: 0, Text: "time"},
		{ID: 1, Text: "weather"},
		{ID: 2, Text: "record audio"},
	}
}

// Registry is an immutable, validated command table.
type Registry struct {
	cmds []Command
	byID map[int]int
}

// NewRegistry validates cmds and returns a registry over a copy of them. Any
// invalid command fails the whole registry.
func NewRegistry(cmds []Command) (*Registry, error) {
	r, err := Build(cmds)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Build returns a registry of the valid commands in cmds, skipping invalid
// entries and later duplicates of an id. The returned error describes every
// skipped entry; the registry is never nil.
func Build(cmds []Command) (*Registry, error) {
	var errs []error
	r := &Registry{
		cmds: make([]Command, 0, len(cmds)),
		byID: make(map[int]int, len(cmds)),
	}
	for _, c := range cmds {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.byID[c.ID]; dup {
			errs = append(errs, fmt.Errorf("command %d: duplicate id", c.ID))
			continue
		}
		r.byID[c.ID] = len(r.cmds)
		r.cmds = append(r.cmds, c)
	}
	return r, errors.Join(errs...)
}

// Commands returns a copy of the registered commands in order.
func (r *Registry) Commands() []Command {
	return slices.Clone(r.cmds)
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.cmds) }

// Lookup returns the command with the given id.
func (r *Registry) Lookup(id int) (Command, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Command{}, false
	}
	return r.cmds[i], true
}

// Install replaces the classifier's command set with the registry. Entries
// the classifier refuses are logged and skipped; installation never fails as
// a whole. It returns the number of commands that were accepted.
func (r *Registry) Install(c classifier.Classifier) int {
	c.ClearCommands()
	refused := 0
	for _, cmd := range r.cmds {
		if err := c.AddCommand(cmd.ID, cmd.pronunciation()); err != nil {
			slog.Warn("command: add failed", "id", cmd.ID, "text", cmd.Text, "err", err)
			refused++
		}
	}
	for _, rej := range c.CommitCommands() {
		slog.Warn("command: rejected by classifier",
			"id", rej.CommandID,
			"phoneme", rej.Phoneme,
			"reason", rej.Reason,
		)
		refused++
	}
	installed := len(r.cmds) - refused
	slog.Info("command: installed", "count", installed, "total", len(r.cmds))
	return installed
}
