package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hearken/internal/command"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio":       {"portaudio", "wav"},
	"frontend":    {"energy"},
	"classifier":  {"phrase"},
	"transcriber": {"whisper-native"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. ${VAR} references are expanded from the environment
// first; see [ExpandEnv]. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces $VAR and ${VAR} references in data with environment
// values. Unset variables are left as written so a missing secret fails
// loudly in the provider instead of turning into an empty string.
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	}))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, console", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Recognizer
	rc := cfg.Recognizer
	if !rc.Mode.Valid() {
		errs = append(errs, fmt.Errorf("recognizer.mode %d is invalid", int32(rc.Mode)))
	}
	if !rc.FollowUpMode.Valid() {
		errs = append(errs, fmt.Errorf("recognizer.follow_up_mode %d is invalid", int32(rc.FollowUpMode)))
	}
	if rc.FeedCPU < -1 {
		errs = append(errs, fmt.Errorf("recognizer.feed_cpu %d is invalid; use -1 for no pinning", rc.FeedCPU))
	}
	if rc.DetectCPU < -1 {
		errs = append(errs, fmt.Errorf("recognizer.detect_cpu %d is invalid; use -1 for no pinning", rc.DetectCPU))
	}
	if rc.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("recognizer.retry_delay %s must not be negative", rc.RetryDelay))
	}
	if rc.Tick < 0 {
		errs = append(errs, fmt.Errorf("recognizer.tick %s must not be negative", rc.Tick))
	}
	if rc.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("recognizer.command_timeout %s must not be negative", rc.CommandTimeout))
	}

	// Providers
	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}
	if cfg.Providers.FrontEnd.Name == "" {
		errs = append(errs, errors.New("providers.frontend.name is required"))
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("frontend", cfg.Providers.FrontEnd.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	for i, fb := range cfg.Providers.TranscriberFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("transcriber", fb.Name)
	}
	if cfg.Providers.Transcriber.Name == "" && len(cfg.Providers.TranscriberFallbacks) > 0 {
		errs = append(errs, errors.New("providers.transcriber_fallbacks requires providers.transcriber"))
	}

	if cfg.Providers.Transcriber.Name == "" {
		if cfg.Providers.Classifier.Name != "" {
			slog.Warn("providers.transcriber is not configured; command classification will be unavailable")
		}
		if cfg.Wake.Phrase != "" {
			slog.Warn("providers.transcriber is not configured; wake phrase spotting will be unavailable")
		}
	}

	// Commands
	if _, err := command.NewRegistry(cfg.Commands); err != nil {
		errs = append(errs, fmt.Errorf("commands: %w", err))
	}

	// Resilience
	if r := cfg.Resilience; r.MaxFailures < 0 || r.ResetTimeout < 0 || r.HalfOpenMax < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be between 0 and 1", r))
	}

	// Capture
	if cfg.Capture.Enabled && cfg.Capture.Dir == "" {
		errs = append(errs, errors.New("capture.dir is required when capture is enabled"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
