package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/afero"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/events"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/pkg/audio"
	audiomock "github.com/MrWong99/hearken/pkg/audio/mock"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	clmock "github.com/MrWong99/hearken/pkg/provider/classifier/mock"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
	femock "github.com/MrWong99/hearken/pkg/provider/frontend/mock"
	trmock "github.com/MrWong99/hearken/pkg/provider/transcribe/mock"
)

// testConfig returns a config tuned for fast tests without a listener.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.ListenAddr = ""
	cfg.Recognizer.RetryDelay = 5 * time.Millisecond
	cfg.Recognizer.Tick = time.Millisecond
	return cfg
}

type fixture struct {
	app     *app.App
	engine  *femock.Engine
	cls     *clmock.Factory
	sources []*audiomock.Source
	tr      *trmock.Transcriber
	reader  *sdkmetric.ManualReader
	fs      afero.Fs
	levels  *slog.LevelVar
	cfg     *config.Config
	stopRun context.CancelFunc
	runErr  chan error
}

func newFixture(t *testing.T, cfg *config.Config, cls *clmock.Factory) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		engine: femock.NewEngine(512, 512),
		cls:    cls,
		tr:     &trmock.Transcriber{},
		reader: reader,
		fs:     afero.NewMemMapFs(),
		levels: new(slog.LevelVar),
		cfg:    cfg,
	}
	providers := &app.Providers{
		OpenAudio: func() (audio.Source, error) {
			// Only called under the session manager lock.
			src := &audiomock.Source{}
			f.sources = append(f.sources, src)
			return src, nil
		},
		FrontEnd:    &femock.Factory{Engine: f.engine},
		Transcriber: f.tr,
	}
	if cls != nil {
		providers.Classifier = cls
	}

	a, err := app.New(cfg, providers,
		app.WithMetrics(metrics),
		app.WithLevelVar(f.levels),
		app.WithFs(f.fs),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.app = a
	t.Cleanup(func() {
		if f.stopRun != nil {
			f.stopRun()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return f
}

// run starts App.Run in the background and waits for the session.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.stopRun = cancel
	f.runErr = make(chan error, 1)
	go func() { f.runErr <- f.app.Run(ctx) }()
	waitFor(t, "session running", f.app.Controller().Running)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	open := func() (audio.Source, error) { return &audiomock.Source{}, nil }

	tests := []struct {
		name      string
		cfg       *config.Config
		providers *app.Providers
	}{
		{name: "nil config", providers: &app.Providers{OpenAudio: open, FrontEnd: &femock.Factory{}}},
		{name: "nil providers", cfg: testConfig()},
		{name: "no audio", cfg: testConfig(), providers: &app.Providers{FrontEnd: &femock.Factory{}}},
		{name: "no front end", cfg: testConfig(), providers: &app.Providers{OpenAudio: open}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(tt.cfg, tt.providers); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), &clmock.Factory{})
	f.run(t)

	if !f.app.Sessions().IsActive() {
		t.Fatal("no active session while running")
	}

	f.stopRun()
	select {
	case err := <-f.runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if f.app.Controller().Running() {
		t.Error("recognizer still running after Shutdown")
	}
	if len(f.sources) != 1 || f.sources[0].CloseCallCount != 1 {
		t.Errorf("audio sources = %d, want one closed once", len(f.sources))
	}
	if f.tr.CloseCallCount != 1 {
		t.Errorf("transcriber closed %d times, want 1", f.tr.CloseCallCount)
	}
	if err := f.app.Hub().Publish(events.Message{Kind: "late"}); err == nil {
		t.Error("hub accepts messages after Shutdown")
	}

	// Second call is a no-op.
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunFailsWhenSessionCannotStart(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	a, err := app.New(cfg, &app.Providers{
		OpenAudio: func() (audio.Source, error) { return nil, errors.New("device busy") },
		FrontEnd:  &femock.Factory{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Errorf("Run() = %v, want device busy error", err)
	}
}

func TestApp_FatalRecognizerErrorEndsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), &clmock.Factory{Chunk: 256})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(ctx) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, recognizer.ErrChunkSizeMismatch) {
			t.Errorf("Run() = %v, want ErrChunkSizeMismatch", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after a fatal recognizer error")
	}
}

func TestApp_HTTPEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), &clmock.Factory{})
	f.run(t)

	srv := httptest.NewServer(f.app.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		method, path, body string
		wantCode           int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/v1/recognizer", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPut, "/v1/recognizer/mode", `{"mode":"off"}`, http.StatusOK},
		{http.MethodPost, "/v1/recognizer/pause", "", http.StatusNoContent},
		{http.MethodPost, "/v1/recognizer/resume", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.wantCode {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.wantCode)
		}
	}

	if m, err := f.app.Controller().Mode(); err != nil || m != recognizer.ModeOff {
		t.Errorf("Mode() = %v, %v; want off after PUT", m, err)
	}

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var ready struct {
		Status string         `json:"status"`
		Info   map[string]any `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if ready.Status != "ok" || ready.Info["mode"] != "off" {
		t.Errorf("readyz = %+v", ready)
	}
}

func TestApp_ReadinessFailsAfterShutdown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)
	f.run(t)
	f.stopRun()
	<-f.runErr
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz after shutdown = %d, want 503", rec.Code)
	}
}

func TestApp_WakeThenCommandFlow(t *testing.T) {
	t.Parallel()
	cl := &clmock.Classifier{
		Chunk:      512,
		Script:     []classifier.State{classifier.Detected},
		Candidates: []classifier.Candidate{{CommandID: 1, PhraseID: 0, Probability: 0.9}},
	}
	f := newFixture(t, testConfig(), &clmock.Factory{Classifier: cl})
	f.run(t)

	srv := httptest.NewServer(f.app.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.CloseNow()
	waitFor(t, "subscriber", func() bool { return f.app.Hub().Subscribers() == 1 })

	f.engine.Push(&frontend.FetchResult{WakeState: frontend.WakeDetected, OK: true})

	var msg events.Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read wake event: %v", err)
	}
	if msg.Kind != "wake_word" || msg.Mode != "command" {
		t.Fatalf("wake event = %+v, want wake_word/command", msg)
	}

	f.engine.Push(&frontend.FetchResult{Data: make([]int16, 512), OK: true})

	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read command event: %v", err)
	}
	if msg.Kind != "command" || msg.CommandID != 1 || msg.Text != "weather" {
		t.Errorf("command event = %+v, want command 1 weather", msg)
	}
	if msg.Mode != "wake_word" {
		t.Errorf("mode after command = %q, want wake_word", msg.Mode)
	}
}

func TestApp_ReloadFollowUpMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)
	f.run(t)
	before := f.app.Sessions().Info().SessionID

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Recognizer.FollowUpMode = recognizer.ModeOff
	f.app.Reload(f.cfg, next)

	if got := f.levels.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	if got := f.app.Sessions().Info().SessionID; got == before {
		t.Errorf("session not restarted for a follow-up mode change")
	}
	if f.app.Config() != next {
		t.Error("Config() does not return the reloaded config")
	}
}

func TestApp_ReloadWithoutRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)
	f.run(t)
	before := f.app.Sessions().Info().SessionID

	next := testConfig()
	next.Server.LogLevel = config.LogWarn
	f.app.Reload(f.cfg, next)

	if got := f.app.Sessions().Info().SessionID; got != before {
		t.Errorf("session restarted for a log level change: %q -> %q", before, got)
	}
	if got := reloads(t, f.reader)["applied"]; got != 1 {
		t.Errorf("applied reloads = %d, want 1", got)
	}
}

func TestApp_ReloadRestartsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)
	f.run(t)
	before := f.app.Sessions().Info().SessionID

	next := testConfig()
	next.Recognizer.Mode = recognizer.ModeOff
	f.app.Reload(f.cfg, next)

	info := f.app.Sessions().Info()
	if info.SessionID == before || info.SessionID == "" {
		t.Errorf("session not restarted: %q -> %q", before, info.SessionID)
	}
	if m, err := f.app.Controller().Mode(); err != nil || m != recognizer.ModeOff {
		t.Errorf("Mode() = %v, %v; want off", m, err)
	}
	if got := reloads(t, f.reader)["restarted"]; got != 1 {
		t.Errorf("restarted reloads = %d, want 1", got)
	}
}

func TestApp_ReloadCapture(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)
	f.run(t)

	next := testConfig()
	next.Capture = config.CaptureConfig{Enabled: true, Dir: "/cap"}
	f.app.Reload(f.cfg, next)

	path := f.app.Sessions().Info().CapturePath
	if path == "" {
		t.Fatal("capture not enabled after reload")
	}
	if _, err := f.fs.Stat(path); err != nil {
		t.Errorf("capture file %q: %v", path, err)
	}
}

// reloads sums the config reload counter by status.
func reloads(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hearken.config.reloads" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("reloads data is %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				out[status.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestApp_ReloadFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	f.app.ReloadFailed(errors.New("server.log_level \"loud\" is invalid"))
	if got := reloads(t, f.reader)["invalid"]; got != 1 {
		t.Errorf("invalid reloads = %d, want 1", got)
	}
	if f.app.Config() != f.cfg {
		t.Error("failed reload replaced the config")
	}
}
