// Command hearken is the main entry point for the hearken voice command
// recognizer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/audio/portaudio"
	"github.com/MrWong99/hearken/pkg/audio/wavfile"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	classifierphrase "github.com/MrWong99/hearken/pkg/provider/classifier/phrase"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
	"github.com/MrWong99/hearken/pkg/provider/frontend/energy"
	"github.com/MrWong99/hearken/pkg/provider/transcribe"
	"github.com/MrWong99/hearken/pkg/provider/transcribe/whisper"
	"github.com/MrWong99/hearken/pkg/provider/vad/spectral"
	"github.com/MrWong99/hearken/pkg/provider/wake"
	wakephrase "github.com/MrWong99/hearken/pkg/provider/wake/phrase"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// errNotConfigured is returned by provider factories whose required settings
// are absent. buildProviders skips such providers with a warning.
var errNotConfigured = errors.New("provider not configured")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	envFile := flag.StringP("env", "e", ".env", "optional env file whose variables are available to ${VAR} references in the config")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "hearken: load env file %q: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearken: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearken: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levels := new(slog.LevelVar)
	levels.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, levels))

	slog.Info("hearken starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithLevelVar(levels))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if providers.Transcriber != nil {
			_ = providers.Transcriber.Close()
		}
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.Reload,
			config.WithOnError(application.ReloadFailed))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	slog.Info("recognizer ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Source, error) {
		return portaudio.New(portaudio.WithFramesPerBuffer(entry.IntOption("frames_per_buffer", 0)))
	})

	reg.RegisterAudio("wav", func(entry config.ProviderEntry) (audio.Source, error) {
		path := entry.StringOption("path", entry.Model)
		if path == "" {
			return nil, fmt.Errorf("wav: options.path is required: %w", errNotConfigured)
		}
		return wavfile.Open(afero.NewOsFs(), path,
			wavfile.WithLoop(entry.BoolOption("loop", false)),
			wavfile.WithRealtime(entry.BoolOption("realtime", true)),
		)
	})

	// ── Front end ─────────────────────────────────────────────────────────────

	reg.RegisterFrontEnd("energy", func(entry config.ProviderEntry, deps config.Deps) (frontend.Factory, error) {
		var detector wake.Detector
		switch {
		case deps.Wake.Phrase == "":
			slog.Warn("wake.phrase is empty; wake word spotting disabled")
		case deps.Transcriber == nil:
			slog.Warn("no transcriber; wake word spotting disabled")
		default:
			d, err := wakephrase.New(deps.Wake.Phrase, deps.Transcriber)
			if err != nil {
				return nil, err
			}
			detector = d
		}
		return &energy.Factory{
			VAD:      newVAD(entry),
			Detector: detector,
			Options: energy.Options{
				FeedChunk:     entry.IntOption("feed_chunk", 0),
				FetchChunk:    entry.IntOption("fetch_chunk", 0),
				VerifyChannel: deps.Wake.VerifyChannel,
			},
		}, nil
	})

	// ── Classifier ────────────────────────────────────────────────────────────

	reg.RegisterClassifier("phrase", func(entry config.ProviderEntry, deps config.Deps) (classifier.Factory, error) {
		// A nil transcriber makes New report ErrNoModel and the recognizer
		// runs without command classification.
		return &classifierphrase.Factory{
			VAD:         newVAD(entry),
			Transcriber: deps.Transcriber,
			Options: classifierphrase.Options{
				Chunk:           entry.IntOption("chunk", 0),
				MinSpeechFrames: entry.IntOption("min_speech_frames", 0),
			},
		}, nil
	})

	// ── Transcriber ───────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		modelPath := entry.StringOption("model_path", entry.Model)
		if modelPath == "" {
			return nil, fmt.Errorf("whisper-native: model is required: %w", errNotConfigured)
		}
		var opts []whisper.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if threads := entry.IntOption("threads", 0); threads > 0 {
			opts = append(opts, whisper.WithThreads(uint(threads)))
		}
		return whisper.New(modelPath, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// newVAD builds the spectral VAD engine shared by a provider's sessions.
// options.band_low and options.band_high select the speech band in Hz.
func newVAD(entry config.ProviderEntry) *spectral.Engine {
	low := entry.IntOption("band_low", 0)
	high := entry.IntOption("band_high", 0)
	if low > 0 && high > low {
		return spectral.New(spectral.WithBand(float64(low), float64(high)))
	}
	return spectral.New()
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The transcriber is built first because the front end and the classifier
// receive it through [config.Deps].
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if cfg.Providers.Transcriber.Name != "" {
		t, err := buildTranscriber(cfg, reg)
		if err != nil {
			return nil, err
		}
		if t != nil {
			ps.Transcriber = t
		}
	}

	deps := config.Deps{Transcriber: ps.Transcriber, Wake: cfg.Wake}

	fe, err := reg.CreateFrontEnd(cfg.Providers.FrontEnd, deps)
	if err != nil {
		closeTranscriber(ps)
		return nil, fmt.Errorf("create front end %q: %w", cfg.Providers.FrontEnd.Name, err)
	}
	ps.FrontEnd = fe
	slog.Info("provider created", "kind", "frontend", "name", cfg.Providers.FrontEnd.Name)

	if name := cfg.Providers.Classifier.Name; name != "" {
		cl, err := reg.CreateClassifier(cfg.Providers.Classifier, deps)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "classifier", "name", name)
		case err != nil:
			closeTranscriber(ps)
			return nil, fmt.Errorf("create classifier %q: %w", name, err)
		default:
			ps.Classifier = cl
			slog.Info("provider created", "kind", "classifier", "name", name)
		}
	}

	// The microphone is opened per session, so only check the name here.
	audioEntry := cfg.Providers.Audio
	ps.OpenAudio = func() (audio.Source, error) {
		return reg.CreateAudio(audioEntry)
	}

	return ps, nil
}

// buildTranscriber creates the configured transcriber and its fallbacks and
// puts them behind circuit breakers. Entries that are not registered or not
// configured are skipped. It returns nil when no entry could be created.
func buildTranscriber(cfg *config.Config, reg *config.Registry) (*resilience.Transcriber, error) {
	entries := append([]config.ProviderEntry{cfg.Providers.Transcriber}, cfg.Providers.TranscriberFallbacks...)
	breaker := resilience.BreakerConfig{
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
		HalfOpenMax:  cfg.Resilience.HalfOpenMax,
	}

	var guard *resilience.Transcriber
	for i, entry := range entries {
		t, err := reg.CreateTranscriber(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "transcriber", "name", entry.Name)
			continue
		case errors.Is(err, errNotConfigured):
			slog.Warn("provider not configured, skipping", "kind", "transcriber", "name", entry.Name, "err", err)
			continue
		case err != nil:
			if guard != nil {
				_ = guard.Close()
			}
			return nil, fmt.Errorf("create transcriber %q: %w", entry.Name, err)
		}

		label := entry.Name
		if i > 0 {
			label = fmt.Sprintf("%s#%d", entry.Name, i)
		}
		if guard == nil {
			guard = resilience.NewTranscriber(label, t, breaker)
		} else {
			guard.AddFallback(label, t)
		}
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name, "fallback", i > 0)
	}
	return guard, nil
}

func closeTranscriber(ps *app.Providers) {
	if ps.Transcriber != nil {
		_ = ps.Transcriber.Close()
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         hearken: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	printProvider("Front end", cfg.Providers.FrontEnd.Name, "")
	printProvider("Classifier", cfg.Providers.Classifier.Name, cfg.Providers.Classifier.Model)
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, "")
	fmt.Printf("║  %-12s    : %-19s ║\n", "Mode", cfg.Recognizer.Mode.String())
	fmt.Printf("║  %-12s    : %-19d ║\n", "Commands", len(cfg.Commands))
	if cfg.Capture.Enabled {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Capture", truncate(cfg.Capture.Dir))
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the root logger. The level is read from levels on every
// record so config reloads take effect immediately.
func newLogger(w io.Writer, format config.LogFormat, levels *slog.LevelVar) *slog.Logger {
	switch format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levels}))
	case config.LogFormatConsole:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      levels,
			TimeFormat: time.TimeOnly,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levels}))
	}
}
