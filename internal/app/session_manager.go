package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/audio/wavfile"
)

// ErrNoSession is returned by [SessionManager.Stop] when no session is active.
var ErrNoSession = errors.New("session: no active session")

// SessionInfo holds metadata about the active recognizer session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"id"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`

	// InitialMode is the mode the session was set up in.
	InitialMode recognizer.Mode `json:"initial_mode"`

	// CapturePath is the WAV file receiving fed audio, if capture is on.
	CapturePath string `json:"capture_path,omitempty"`
}

// SessionSpec describes one session: everything that is fixed between
// Setup and Stop.
type SessionSpec struct {
	Mode      recognizer.Mode
	Commands  []command.Command
	FeedCPU   int
	DetectCPU int
	Capture   config.CaptureConfig
}

// specFromConfig builds the session spec for cfg.
func specFromConfig(cfg *config.Config) SessionSpec {
	return SessionSpec{
		Mode:      cfg.Recognizer.Mode,
		Commands:  cfg.Commands,
		FeedCPU:   cfg.Recognizer.FeedCPU,
		DetectCPU: cfg.Recognizer.DetectCPU,
		Capture:   cfg.Capture,
	}
}

// SessionManager opens the audio source and drives the recognizer through
// Setup, Start and Stop. Only one session can be active at a time. All
// exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	source audio.Source
	seq    int

	ctrl      *recognizer.Controller
	openAudio func() (audio.Source, error)
	fs        afero.Fs
	onEvent   recognizer.EventHandler
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Controller runs the sessions. Required.
	Controller *recognizer.Controller

	// OpenAudio opens a fresh audio source for each session. The manager
	// closes it on Stop. Required.
	OpenAudio func() (audio.Source, error)

	// Fs receives capture files. Nil uses the OS filesystem.
	Fs afero.Fs

	// OnEvent receives recognizer events.
	OnEvent recognizer.EventHandler
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SessionManager{
		ctrl:      cfg.Controller,
		openAudio: cfg.OpenAudio,
		fs:        fs,
		onEvent:   cfg.OnEvent,
	}
}

// Start opens the audio source, sets up a recognizer session and launches
// its workers. Returns an error if a session is already active. On failure
// everything opened so far is closed again.
func (sm *SessionManager) Start(spec SessionSpec) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.startLocked(spec)
}

func (sm *SessionManager) startLocked(spec SessionSpec) error {
	if sm.active {
		return fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}

	src, err := sm.openAudio()
	if err != nil {
		return fmt.Errorf("session: open audio: %w", err)
	}

	var capturePath string
	if spec.Capture.Enabled {
		rec, err := wavfile.NewRecorder(sm.fs, spec.Capture.Dir)
		if err != nil {
			_ = src.Close()
			return fmt.Errorf("session: open capture: %w", err)
		}
		capturePath = rec.Path()
		src = audio.NewTee(src, rec)
	}

	if err := sm.ctrl.Setup(src, spec.Mode, spec.Commands, sm.onEvent); err != nil {
		_ = src.Close()
		return fmt.Errorf("session: setup: %w", err)
	}
	if err := sm.ctrl.Start(spec.FeedCPU, spec.DetectCPU); err != nil {
		// A failed Start already tore the recognizer session down.
		_ = src.Close()
		return fmt.Errorf("session: start: %w", err)
	}

	sm.seq++
	now := time.Now().UTC()
	sm.active = true
	sm.source = src
	sm.info = SessionInfo{
		SessionID:   fmt.Sprintf("session-%s-%d", now.Format("20060102T150405Z"), sm.seq),
		StartedAt:   now,
		InitialMode: spec.Mode,
		CapturePath: capturePath,
	}

	slog.Info("session started",
		"session_id", sm.info.SessionID,
		"mode", spec.Mode.String(),
		"commands", len(spec.Commands),
		"capture", capturePath,
	)
	return nil
}

// Stop ends the active session and closes its audio source. Returns
// [ErrNoSession] if no session is active.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stopLocked()
}

func (sm *SessionManager) stopLocked() error {
	if !sm.active {
		return ErrNoSession
	}
	sessionID := sm.info.SessionID

	// A fatal worker error may already have torn the recognizer down.
	if err := sm.ctrl.Stop(); err != nil && !errors.Is(err, recognizer.ErrNotRunning) {
		slog.Warn("session: recognizer stop error", "session_id", sessionID, "err", err)
	}
	if err := sm.source.Close(); err != nil {
		slog.Warn("session: audio close error", "session_id", sessionID, "err", err)
	}

	sm.active = false
	sm.source = nil
	sm.info = SessionInfo{}

	slog.Info("session stopped", "session_id", sessionID)
	return nil
}

// Restart stops the active session, if any, and starts a new one from spec.
func (sm *SessionManager) Restart(spec SessionSpec) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		if err := sm.stopLocked(); err != nil {
			return err
		}
	}
	return sm.startLocked(spec)
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}
