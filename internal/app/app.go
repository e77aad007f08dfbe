// Package app wires the hearken subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the recognizer, the
// event hub and the HTTP surface, Run starts a recognizer session and serves
// until the context ends, and Shutdown tears everything down in order.
//
// For testing, inject collaborators via functional options (WithMetrics,
// WithFs, WithListener). Providers always come from the caller, normally
// main.go via the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/events"
	"github.com/MrWong99/hearken/internal/health"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
	"github.com/MrWong99/hearken/pkg/provider/transcribe"
)

const (
	readHeaderTimeout = 10 * time.Second
	serverStopTimeout = 5 * time.Second
	idleLogInterval   = time.Minute
)

// Providers holds one value per provider slot. Classifier and Transcriber
// may be nil. Populated by main.go via the config registry.
type Providers struct {
	// OpenAudio opens a fresh microphone source for each session.
	OpenAudio func() (audio.Source, error)

	FrontEnd    frontend.Factory
	Classifier  classifier.Factory
	Transcriber transcribe.Transcriber
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	fs        afero.Fs
	listener  net.Listener

	mu  sync.Mutex
	cfg *config.Config

	ctrl      *recognizer.Controller
	sessions  *SessionManager
	assistant *Assistant
	hub       *events.Hub
	handler   http.Handler

	// fatal receives the first unrecoverable recognizer error.
	fatal chan error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records metrics into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level through lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithFs writes capture files to fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithListener serves HTTP on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It does not open the
// microphone; Run does.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.OpenAudio == nil || providers.FrontEnd == nil {
		return nil, errors.New("app: audio and front-end providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		fatal:     make(chan error, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}

	// ── 1. Event hub ─────────────────────────────────────────────────────
	a.hub = events.NewHub(events.Options{Metrics: a.metrics})
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	// ── 2. Recognizer + assistant ────────────────────────────────────────
	a.ctrl = recognizer.New(a.recognizerConfig(cfg))
	a.assistant = NewAssistant(a.ctrl, a.hub, cfg.Recognizer.FollowUpMode)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Controller: a.ctrl,
		OpenAudio:  providers.OpenAudio,
		Fs:         a.fs,
		OnEvent:    a.assistant.Handle,
	})

	// ── 3. Providers ─────────────────────────────────────────────────────
	if providers.Transcriber != nil {
		a.closers = append(a.closers, providers.Transcriber.Close)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.buildHandler()

	return a, nil
}

// recognizerConfig maps the config onto the controller settings.
func (a *App) recognizerConfig(cfg *config.Config) recognizer.Config {
	return recognizer.Config{
		FrontEnd: a.providers.FrontEnd,
		FrontEndConfig: frontend.Config{
			SampleRate: audio.SampleRate,
			Options:    cfg.Providers.FrontEnd.Options,
		},
		Classifier: a.providers.Classifier,
		ClassifierConfig: classifier.Config{
			Model:       cfg.Providers.Classifier.Model,
			MaxDuration: cfg.Recognizer.CommandTimeout,
			SampleRate:  audio.SampleRate,
			Options:     cfg.Providers.Classifier.Options,
		},
		Metrics:    a.metrics,
		RetryDelay: cfg.Recognizer.RetryDelay,
		Tick:       cfg.Recognizer.Tick,
		Fatal:      a.onFatal,
	}
}

// onFatal records the first unrecoverable recognizer error. Run returns it.
func (a *App) onFatal(err error) {
	slog.Error("recognizer: fatal error", "err", err)
	select {
	case a.fatal <- err:
	default:
	}
}

// buildHandler assembles the HTTP routes behind the observability middleware.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	health.New(health.Running("recognizer", a.ctrl.Running)).
		WithInfo(
			health.Info{Name: "mode", Value: func() any {
				m, err := a.ctrl.Mode()
				if err != nil {
					return nil
				}
				return m.String()
			}},
			health.Since("last_speech", a.ctrl.LastSpeech),
		).
		Register(mux)

	NewAPI(a.ctrl, a.sessions.Info).Register(mux)
	mux.Handle("GET /v1/events", a.hub)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the HTTP handler serving health, control, events and
// metrics endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the recognizer controller.
func (a *App) Controller() *recognizer.Controller { return a.ctrl }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Hub returns the event hub.
func (a *App) Hub() *events.Hub { return a.hub }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts a recognizer session and the HTTP server and blocks until ctx
// is cancelled, the server fails, or the recognizer reports a fatal error.
// The session keeps running after Run returns; Shutdown stops it.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	if err := a.sessions.Start(specFromConfig(cfg)); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.listener != nil || cfg.Server.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			err := a.serve(srv, cfg.Server.TLS)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		a.logIdle(gctx, idleLogInterval)
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-a.fatal:
			return fmt.Errorf("app: recognizer failed: %w", err)
		}
	})

	slog.Info("app running",
		"listen_addr", cfg.Server.ListenAddr,
		"mode", cfg.Recognizer.Mode.String(),
		"commands", len(cfg.Commands),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// logIdle reports, once per interval, how long the microphone has been
// quiet. It returns when ctx ends.
func (a *App) logIdle(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := a.ctrl.LastSpeech()
			if last.IsZero() {
				slog.Debug("idle: no speech heard yet", "running", a.ctrl.Running())
				continue
			}
			if quiet := time.Since(last); quiet >= interval {
				slog.Debug("idle: no recent speech", "quiet", quiet.Round(time.Second), "running", a.ctrl.Running())
			}
		}
	}
}

// serve runs srv on the injected listener or its own address.
func (a *App) serve(srv *http.Server, tls *config.TLSConfig) error {
	if a.listener != nil {
		if tls != nil {
			return srv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		}
		return srv.Serve(a.listener)
	}
	if tls != nil {
		return srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return srv.ListenAndServe()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies a changed config. It is the callback for
// [config.NewWatcher]. The log level and the follow-up mode are applied
// live; changes to mode, commands, wake settings, CPU pinning or capture
// restart the running session. Recognizer timing and provider changes are
// only picked up by a process restart.
func (a *App) Reload(old, new *config.Config) {
	ctx := context.Background()
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	a.assistant.SetFollowUp(new.Recognizer.FollowUpMode)
	if old.Resilience != new.Resilience {
		slog.Warn("config reload: resilience changes take effect after a process restart")
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()

	if !d.RestartRequired {
		a.metrics.RecordConfigReload(ctx, "applied")
		return
	}

	if old.Recognizer.RetryDelay != new.Recognizer.RetryDelay ||
		old.Recognizer.Tick != new.Recognizer.Tick ||
		old.Recognizer.CommandTimeout != new.Recognizer.CommandTimeout ||
		!reflect.DeepEqual(old.Providers, new.Providers) ||
		old.Wake != new.Wake {
		slog.Warn("config reload: recognizer timing, wake and provider changes take effect after a process restart")
	}

	if !a.sessions.IsActive() {
		a.metrics.RecordConfigReload(ctx, "applied")
		return
	}
	if err := a.sessions.Restart(specFromConfig(new)); err != nil {
		slog.Error("config reload: session restart failed", "err", err)
		a.metrics.RecordConfigReload(ctx, "failed")
		return
	}
	slog.Info("config reload: session restarted", "mode", new.Recognizer.Mode.String())
	a.metrics.RecordConfigReload(ctx, "restarted")
}

// ReloadFailed records a config change that could not be applied. It is the
// error hook for [config.NewWatcher].
func (a *App) ReloadFailed(err error) {
	slog.Error("config reload: keeping previous configuration", "err", err)
	a.metrics.RecordConfigReload(context.Background(), "invalid")
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the recognizer session and releases all resources. It
// respects the context deadline. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the session first so no event reaches a closed hub.
		if err := a.sessions.Stop(); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("session stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
