package config_test

import (
	"testing"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/recognizer"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mutate       func(*config.Config)
		wantLevel    bool
		wantMode     bool
		wantCommands bool
		wantRestart  bool
	}{
		{name: "no changes", mutate: func(*config.Config) {}},
		{
			name:      "log level only",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name:        "mode",
			mutate:      func(c *config.Config) { c.Recognizer.Mode = recognizer.ModeOff },
			wantMode:    true,
			wantRestart: true,
		},
		{
			name:        "follow-up mode",
			mutate:      func(c *config.Config) { c.Recognizer.FollowUpMode = recognizer.ModeCommand },
			wantMode:    true,
			wantRestart: true,
		},
		{
			name: "command text",
			mutate: func(c *config.Config) {
				c.Commands[1].Text = "forecast"
			},
			wantCommands: true,
			wantRestart:  true,
		},
		{
			name: "command added",
			mutate: func(c *config.Config) {
				c.Commands = append(c.Commands, command.Command{ID: 9, Text: "music"})
			},
			wantCommands: true,
			wantRestart:  true,
		},
		{
			name:        "wake phrase",
			mutate:      func(c *config.Config) { c.Wake.Phrase = "computer" },
			wantRestart: true,
		},
		{
			name: "provider options",
			mutate: func(c *config.Config) {
				c.Providers.FrontEnd.Options = map[string]any{"feed_chunk": 256}
			},
			wantRestart: true,
		},
		{
			name:        "cpu pinning",
			mutate:      func(c *config.Config) { c.Recognizer.DetectCPU = 1 },
			wantRestart: true,
		},
		{
			name:   "listen address is not hot",
			mutate: func(c *config.Config) { c.Server.ListenAddr = ":1234" },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := config.Defaults()
			next := config.Defaults()
			tc.mutate(next)

			d := config.Diff(old, next)
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if tc.wantLevel && d.NewLogLevel != next.Server.LogLevel {
				t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, next.Server.LogLevel)
			}
			if d.ModeChanged != tc.wantMode {
				t.Errorf("ModeChanged = %v, want %v", d.ModeChanged, tc.wantMode)
			}
			if d.CommandsChanged != tc.wantCommands {
				t.Errorf("CommandsChanged = %v, want %v", d.CommandsChanged, tc.wantCommands)
			}
			if d.RestartRequired != tc.wantRestart {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
