package app

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/pkg/audio"
	audiomock "github.com/MrWong99/hearken/pkg/audio/mock"
	femock "github.com/MrWong99/hearken/pkg/provider/frontend/mock"
)

// sourceRecorder hands out mock sources and remembers them.
type sourceRecorder struct {
	mu      sync.Mutex
	sources []*audiomock.Source
	err     error
}

func (r *sourceRecorder) open() (audio.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	src := &audiomock.Source{}
	r.sources = append(r.sources, src)
	return src, nil
}

func (r *sourceRecorder) all() []*audiomock.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audiomock.Source(nil), r.sources...)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type smFixture struct {
	sm      *SessionManager
	ctrl    *recognizer.Controller
	fe      *femock.Factory
	sources *sourceRecorder
	fs      afero.Fs
}

func newSMFixture(t *testing.T) *smFixture {
	t.Helper()
	f := &smFixture{
		fe:      &femock.Factory{},
		sources: &sourceRecorder{},
		fs:      afero.NewMemMapFs(),
	}
	f.ctrl = recognizer.New(recognizer.Config{
		FrontEnd:   f.fe,
		Metrics:    testMetrics(t),
		RetryDelay: 5 * time.Millisecond,
		Tick:       time.Millisecond,
		Fatal:      func(err error) { t.Errorf("unexpected fatal error: %v", err) },
	})
	f.sm = NewSessionManager(SessionManagerConfig{
		Controller: f.ctrl,
		OpenAudio:  f.sources.open,
		Fs:         f.fs,
	})
	t.Cleanup(func() { _ = f.sm.Stop() })
	return f
}

func testSpec() SessionSpec {
	return SessionSpec{
		Mode:      recognizer.ModeWakeWord,
		Commands:  command.Defaults(),
		FeedCPU:   -1,
		DetectCPU: -1,
	}
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)

	if err := f.sm.Start(testSpec()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !f.sm.IsActive() || !f.ctrl.Running() {
		t.Fatal("session not active after Start")
	}
	info := f.sm.Info()
	if !strings.HasPrefix(info.SessionID, "session-") {
		t.Errorf("SessionID = %q, want session- prefix", info.SessionID)
	}
	if info.InitialMode != recognizer.ModeWakeWord {
		t.Errorf("InitialMode = %v, want wake_word", info.InitialMode)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt is zero")
	}

	if err := f.sm.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if f.sm.IsActive() || f.ctrl.Running() {
		t.Error("session still active after Stop")
	}
	if f.sm.Info() != (SessionInfo{}) {
		t.Errorf("Info() = %+v after Stop, want zero", f.sm.Info())
	}
	srcs := f.sources.all()
	if len(srcs) != 1 || srcs[0].CloseCallCount != 1 {
		t.Errorf("audio sources = %d, want one closed once", len(srcs))
	}
}

func TestSessionManager_StartTwice(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)

	if err := f.sm.Start(testSpec()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := f.sm.Start(testSpec()); err == nil {
		t.Fatal("second Start() succeeded, want error")
	}
	if got := len(f.sources.all()); got != 1 {
		t.Errorf("opened %d sources, want 1", got)
	}
}

func TestSessionManager_StopWithoutSession(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)
	if err := f.sm.Stop(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Stop() = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_OpenAudioFails(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)
	f.sources.err = errors.New("no microphone")

	err := f.sm.Start(testSpec())
	if err == nil || !strings.Contains(err.Error(), "no microphone") {
		t.Fatalf("Start() = %v, want open error", err)
	}
	if f.sm.IsActive() {
		t.Error("session active after failed Start")
	}
	if got := len(f.fe.Engines()); got != 0 {
		t.Errorf("created %d engines, want 0", got)
	}
}

func TestSessionManager_SetupFailureClosesSource(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)
	f.fe.NewErr = errors.New("out of memory")

	err := f.sm.Start(testSpec())
	if !errors.Is(err, recognizer.ErrResourceExhausted) {
		t.Fatalf("Start() = %v, want ErrResourceExhausted", err)
	}
	srcs := f.sources.all()
	if len(srcs) != 1 || srcs[0].CloseCallCount != 1 {
		t.Error("audio source not closed after failed setup")
	}
	if f.sm.IsActive() {
		t.Error("session active after failed Start")
	}
}

func TestSessionManager_Restart(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)

	if err := f.sm.Start(testSpec()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	first := f.sm.Info().SessionID

	spec := testSpec()
	spec.Mode = recognizer.ModeOff
	if err := f.sm.Restart(spec); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	info := f.sm.Info()
	if info.SessionID == first {
		t.Errorf("SessionID unchanged after restart: %q", first)
	}
	if m, err := f.ctrl.Mode(); err != nil || m != recognizer.ModeOff {
		t.Errorf("Mode() = %v, %v; want off", m, err)
	}

	engines := f.fe.Engines()
	if len(engines) != 2 {
		t.Fatalf("created %d engines, want 2", len(engines))
	}
	if _, _, closed := engines[0].Counts(); closed != 1 {
		t.Errorf("first engine closed %d times, want 1", closed)
	}
	srcs := f.sources.all()
	if len(srcs) != 2 || srcs[0].CloseCallCount != 1 || srcs[1].CloseCallCount != 0 {
		t.Error("restart did not swap audio sources")
	}
}

func TestSessionManager_RestartWithoutSessionStarts(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)
	if err := f.sm.Restart(testSpec()); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	if !f.sm.IsActive() {
		t.Error("Restart() without a session did not start one")
	}
}

func TestSessionManager_Capture(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)

	spec := testSpec()
	spec.Capture = config.CaptureConfig{Enabled: true, Dir: "/captures"}
	if err := f.sm.Start(spec); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	path := f.sm.Info().CapturePath
	if filepath.Dir(path) != "/captures" || filepath.Ext(path) != ".wav" {
		t.Fatalf("CapturePath = %q, want a .wav under /captures", path)
	}

	engines := f.fe.Engines()
	deadline := time.Now().Add(2 * time.Second)
	for engines[0].Feeds() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("no audio fed")
		}
		time.Sleep(time.Millisecond)
	}

	if err := f.sm.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	st, err := f.fs.Stat(path)
	if err != nil {
		t.Fatalf("capture file missing: %v", err)
	}
	// 44-byte header plus at least the chunks fed so far.
	if st.Size() <= 44 {
		t.Errorf("capture file size = %d, want audio after the header", st.Size())
	}
	if srcs := f.sources.all(); srcs[0].CloseCallCount != 1 {
		t.Error("tee did not close the wrapped source")
	}
}

func TestSessionManager_CaptureDirFailureClosesSource(t *testing.T) {
	t.Parallel()
	f := newSMFixture(t)
	f.sm.fs = afero.NewReadOnlyFs(afero.NewMemMapFs())

	spec := testSpec()
	spec.Capture = config.CaptureConfig{Enabled: true, Dir: "/captures"}
	if err := f.sm.Start(spec); err == nil {
		t.Fatal("Start() succeeded with a read-only capture fs")
	}
	if srcs := f.sources.all(); len(srcs) != 1 || srcs[0].CloseCallCount != 1 {
		t.Error("audio source not closed after capture failure")
	}
}

func TestSpecFromConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Recognizer.Mode = recognizer.ModeCommand
	cfg.Recognizer.FeedCPU = 0
	cfg.Recognizer.DetectCPU = 1
	cfg.Capture = config.CaptureConfig{Enabled: true, Dir: "rec"}

	spec := specFromConfig(cfg)
	if spec.Mode != recognizer.ModeCommand || spec.FeedCPU != 0 || spec.DetectCPU != 1 {
		t.Errorf("spec = %+v", spec)
	}
	if !spec.Capture.Enabled || spec.Capture.Dir != "rec" {
		t.Errorf("capture = %+v", spec.Capture)
	}
	if len(spec.Commands) != len(cfg.Commands) {
		t.Errorf("commands = %d, want %d", len(spec.Commands), len(cfg.Commands))
	}
}
