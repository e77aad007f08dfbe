// Package config provides the configuration schema, loader, and provider registry
// for the hearken voice command recognizer.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/recognizer"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the log handler.
type LogFormat string

const (
	// LogFormatText writes logfmt-style lines.
	LogFormatText LogFormat = "text"

	// LogFormatJSON writes one JSON object per line.
	LogFormatJSON LogFormat = "json"

	// LogFormatConsole writes colourised lines for interactive use.
	LogFormatConsole LogFormat = "console"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatConsole:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Recognizer RecognizerConfig  `yaml:"recognizer"`
	Providers  ProvidersConfig   `yaml:"providers"`
	Wake       WakeConfig        `yaml:"wake"`
	Commands   []command.Command `yaml:"commands"`
	Capture    CaptureConfig     `yaml:"capture"`
	Resilience ResilienceConfig  `yaml:"resilience"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control and metrics server
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied live on reload.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the log handler. Defaults to text.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RecognizerConfig configures the recognizer session.
type RecognizerConfig struct {
	// Mode is the mode a session starts in.
	Mode recognizer.Mode `yaml:"mode"`

	// FollowUpMode is entered after a command or a timeout was handled.
	FollowUpMode recognizer.Mode `yaml:"follow_up_mode"`

	// FeedCPU pins the feed worker and dispatcher; -1 leaves them unpinned.
	FeedCPU int `yaml:"feed_cpu"`

	// DetectCPU pins the detect worker; -1 leaves it unpinned.
	DetectCPU int `yaml:"detect_cpu"`

	// RetryDelay is the pause after a failed audio read.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Tick is the pause after a failed fetch.
	Tick time.Duration `yaml:"tick"`

	// CommandTimeout bounds one command-listening window.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Audio       ProviderEntry `yaml:"audio"`
	FrontEnd    ProviderEntry `yaml:"frontend"`
	Classifier  ProviderEntry `yaml:"classifier"`
	Transcriber ProviderEntry `yaml:"transcriber"`

	// TranscriberFallbacks are tried in order when the transcriber fails or
	// its circuit is open.
	TranscriberFallbacks []ProviderEntry `yaml:"transcriber_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "portaudio", "energy").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a model file or name within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// WakeConfig configures wake-phrase spotting.
type WakeConfig struct {
	// Phrase is the wake phrase (e.g., "hey hearken").
	Phrase string `yaml:"phrase"`

	// VerifyChannel makes the front end report the channel that heard the
	// wake phrase after each detection.
	VerifyChannel bool `yaml:"verify_channel"`
}

// CaptureConfig configures recording of the fed audio.
type CaptureConfig struct {
	// Enabled turns capture on.
	Enabled bool `yaml:"enabled"`

	// Dir receives one WAV file per session.
	Dir string `yaml:"dir"`
}

// ResilienceConfig tunes the circuit breaker placed in front of each
// transcriber.
type ResilienceConfig struct {
	// MaxFailures is the number of consecutive failures that open a circuit.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open circuit rejects calls.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of successful probes that close a circuit.
	HalfOpenMax int `yaml:"half_open_max"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of traces that are sampled, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Defaults returns a configuration with every optional field set. The loader
// decodes YAML on top of it, so omitted keys keep these values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			LogFormat:  LogFormatText,
		},
		Recognizer: RecognizerConfig{
			Mode:           recognizer.ModeWakeWord,
			FollowUpMode:   recognizer.ModeWakeWord,
			FeedCPU:        -1,
			DetectCPU:      -1,
			RetryDelay:     100 * time.Millisecond,
			Tick:           10 * time.Millisecond,
			CommandTimeout: 5760 * time.Millisecond,
		},
		Providers: ProvidersConfig{
			Audio:       ProviderEntry{Name: "portaudio"},
			FrontEnd:    ProviderEntry{Name: "energy"},
			Classifier:  ProviderEntry{Name: "phrase"},
			Transcriber: ProviderEntry{Name: "whisper-native"},
		},
		Wake:     WakeConfig{Phrase: "hey hearken"},
		Commands: command.Defaults(),
		Resilience: ResilienceConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  3,
		},
		Telemetry: TelemetryConfig{ServiceName: "hearken", TraceSampleRatio: 1},
	}
}
