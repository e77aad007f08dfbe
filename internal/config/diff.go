package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ModeChanged is set when the initial or follow-up mode differ.
	ModeChanged bool

	// CommandsChanged is set when the command table differs in content or
	// order.
	CommandsChanged bool

	// RestartRequired is set when a running session must be rebuilt to
	// apply the new config: mode, commands, wake, recognizer timing or
	// provider selection changed.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Recognizer.Mode != new.Recognizer.Mode || old.Recognizer.FollowUpMode != new.Recognizer.FollowUpMode {
		d.ModeChanged = true
	}
	d.CommandsChanged = !slices.Equal(old.Commands, new.Commands)

	d.RestartRequired = d.ModeChanged || d.CommandsChanged ||
		old.Recognizer != new.Recognizer ||
		old.Wake != new.Wake ||
		old.Capture != new.Capture ||
		!reflect.DeepEqual(old.Providers, new.Providers)

	return d
}
