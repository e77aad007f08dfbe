package app

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
)

func (f *fakeControl) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return f.pauseErr
}

func (f *fakeControl) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return f.resumeErr
}

func (f *fakeControl) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeControl) Stats() recognizer.Stats { return f.stats }
func (f *fakeControl) LastSpeech() time.Time   { return f.lastSpeech }
func (f *fakeControl) VADState() frontend.VADState {
	if f.speech {
		return frontend.VADSpeech
	}
	return frontend.VADSilence
}

func (f *fakeControl) Commands() []command.Command {
	ids := slices.Sorted(maps.Keys(f.cmds))
	out := make([]command.Command, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.cmds[id])
	}
	return out
}

func serveAPI(t *testing.T, api *API, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	api.Register(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Status(t *testing.T) {
	t.Parallel()
	spoke := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctrl := &fakeControl{
		running:    true,
		mode:       recognizer.ModeCommand,
		speech:     true,
		lastSpeech: spoke,
		stats:      recognizer.Stats{Enqueued: 4, Dropped: 1, Dispatched: 3, QueueLen: 1, OpenHandles: 2},
		cmds: map[int]command.Command{
			2: {ID: 2, Text: "record audio"},
			0: {ID: 0, Text: "turn on the lights"},
		},
	}
	info := SessionInfo{SessionID: "session-x", InitialMode: recognizer.ModeWakeWord}
	api := NewAPI(ctrl, func() SessionInfo { return info })

	rec := serveAPI(t, api, http.MethodGet, "/v1/recognizer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Running    bool      `json:"running"`
		Mode       string    `json:"mode"`
		Speech     bool      `json:"speech"`
		LastSpeech time.Time `json:"last_speech"`
		Session    struct {
			ID          string `json:"id"`
			InitialMode string `json:"initial_mode"`
		} `json:"session"`
		Commands []struct {
			ID   int    `json:"id"`
			Text string `json:"text"`
		} `json:"commands"`
		Stats struct {
			Enqueued   int64 `json:"enqueued"`
			Dropped    int64 `json:"dropped"`
			Dispatched int64 `json:"dispatched"`
			QueueLen   int   `json:"queue_len"`
		} `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Running || body.Mode != "command" || !body.Speech {
		t.Errorf("running/mode/speech = %v/%q/%v", body.Running, body.Mode, body.Speech)
	}
	if !body.LastSpeech.Equal(spoke) {
		t.Errorf("last_speech = %v, want %v", body.LastSpeech, spoke)
	}
	if body.Session.ID != "session-x" || body.Session.InitialMode != "wake_word" {
		t.Errorf("session = %+v", body.Session)
	}
	if len(body.Commands) != 2 || body.Commands[0].ID != 0 || body.Commands[1].Text != "record audio" {
		t.Errorf("commands = %+v, want ids 0 and 2 in order", body.Commands)
	}
	if body.Stats.Enqueued != 4 || body.Stats.Dropped != 1 || body.Stats.Dispatched != 3 || body.Stats.QueueLen != 1 {
		t.Errorf("stats = %+v", body.Stats)
	}
}

func TestAPI_StatusWithoutSession(t *testing.T) {
	t.Parallel()
	api := NewAPI(&fakeControl{}, nil)

	rec := serveAPI(t, api, http.MethodGet, "/v1/recognizer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"mode", "session", "last_speech"} {
		if _, ok := body[key]; ok {
			t.Errorf("body has %q without a session: %v", key, body)
		}
	}
	if body["running"] != false {
		t.Errorf("running = %v, want false", body["running"])
	}
}

func TestAPI_SetMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		running  bool
		body     string
		wantCode int
		wantSet  bool
	}{
		{name: "command", running: true, body: `{"mode":"command"}`, wantCode: http.StatusOK, wantSet: true},
		{name: "alias", running: true, body: `{"mode":"wakeword"}`, wantCode: http.StatusOK, wantSet: true},
		{name: "off", running: true, body: `{"mode":"off"}`, wantCode: http.StatusOK, wantSet: true},
		{name: "invalid mode", running: true, body: `{"mode":"loud"}`, wantCode: http.StatusBadRequest},
		{name: "missing mode", running: true, body: `{}`, wantCode: http.StatusBadRequest},
		{name: "bad json", running: true, body: `{`, wantCode: http.StatusBadRequest},
		{name: "not running", running: false, body: `{"mode":"command"}`, wantCode: http.StatusConflict, wantSet: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeControl{running: tt.running}
			if !tt.running {
				ctrl.setErr = recognizer.ErrNotRunning
			}
			rec := serveAPI(t, NewAPI(ctrl, nil), http.MethodPut, "/v1/recognizer/mode", tt.body)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := len(ctrl.calls()) > 0; got != tt.wantSet {
				t.Errorf("SetMode called = %v, want %v", got, tt.wantSet)
			}
		})
	}
}

func TestAPI_SetModeResponse(t *testing.T) {
	t.Parallel()
	ctrl := &fakeControl{running: true}
	rec := serveAPI(t, NewAPI(ctrl, nil), http.MethodPut, "/v1/recognizer/mode", `{"mode":"Wake_Word"}`)

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != "wake_word" {
		t.Errorf("mode = %q, want wake_word", body.Mode)
	}
	if got := ctrl.calls(); len(got) != 1 || got[0] != recognizer.ModeWakeWord {
		t.Errorf("SetMode calls = %v", got)
	}
}

func TestAPI_Actions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		path        string
		pauseErr    error
		resumeErr   error
		wantCode    int
		wantPauses  int
		wantResumes int
	}{
		{name: "pause", path: "/v1/recognizer/pause", wantCode: http.StatusNoContent, wantPauses: 1},
		{name: "resume", path: "/v1/recognizer/resume", wantCode: http.StatusNoContent, wantResumes: 1},
		{name: "pause without session", path: "/v1/recognizer/pause", pauseErr: recognizer.ErrNotRunning, wantCode: http.StatusConflict, wantPauses: 1},
		{name: "resume without session", path: "/v1/recognizer/resume", resumeErr: recognizer.ErrNotRunning, wantCode: http.StatusConflict, wantResumes: 1},
		{name: "unknown action", path: "/v1/recognizer/explode", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeControl{running: true, pauseErr: tt.pauseErr, resumeErr: tt.resumeErr}
			rec := serveAPI(t, NewAPI(ctrl, nil), http.MethodPost, tt.path, "")

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if ctrl.pauses != tt.wantPauses || ctrl.resumes != tt.wantResumes {
				t.Errorf("pauses/resumes = %d/%d, want %d/%d", ctrl.pauses, ctrl.resumes, tt.wantPauses, tt.wantResumes)
			}
		})
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	rec := serveAPI(t, NewAPI(&fakeControl{}, nil), http.MethodDelete, "/v1/recognizer", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
