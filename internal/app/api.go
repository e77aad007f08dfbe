package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/hearken/internal/command"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
)

// recognizerControl is the part of the recognizer exposed over HTTP.
type recognizerControl interface {
	modeController
	Pause() error
	Resume() error
	Running() bool
	Stats() recognizer.Stats
	LastSpeech() time.Time
	VADState() frontend.VADState
	Commands() []command.Command
}

// API serves the recognizer control endpoints.
type API struct {
	ctrl    recognizerControl
	session func() SessionInfo
}

// NewAPI returns an API for ctrl. session reports the active session and may
// be nil.
func NewAPI(ctrl recognizerControl, session func() SessionInfo) *API {
	if session == nil {
		session = func() SessionInfo { return SessionInfo{} }
	}
	return &API{ctrl: ctrl, session: session}
}

// Register adds the control endpoints to mux:
//
//	GET  /v1/recognizer          mode, session, commands, counters and last speech
//	PUT  /v1/recognizer/mode     body {"mode": "off"|"wake_word"|"command"}
//	POST /v1/recognizer/{action} pause or resume
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/recognizer", a.handleStatus)
	mux.HandleFunc("PUT /v1/recognizer/mode", a.handleSetMode)
	mux.HandleFunc("POST /v1/recognizer/{action}", a.handleAction)
}

type statsResponse struct {
	Enqueued      int64 `json:"enqueued"`
	Dropped       int64 `json:"dropped"`
	Dispatched    int64 `json:"dispatched"`
	FetchFailures int64 `json:"fetch_failures"`
	FillFailures  int64 `json:"fill_failures"`
	OpenHandles   int64 `json:"open_handles"`
	QueueLen      int   `json:"queue_len"`
}

type commandResponse struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// statusResponse is the JSON body of GET /v1/recognizer.
type statusResponse struct {
	Running    bool              `json:"running"`
	Mode       string            `json:"mode,omitempty"`
	Speech     bool              `json:"speech"`
	LastSpeech *time.Time        `json:"last_speech,omitempty"`
	Session    *SessionInfo      `json:"session,omitempty"`
	Commands   []commandResponse `json:"commands,omitempty"`
	Stats      statsResponse     `json:"stats"`
}

// handleStatus handles GET /v1/recognizer.
func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := a.ctrl.Stats()
	resp := statusResponse{
		Running: a.ctrl.Running(),
		Speech:  a.ctrl.VADState() == frontend.VADSpeech,
		Stats: statsResponse{
			Enqueued:      st.Enqueued,
			Dropped:       st.Dropped,
			Dispatched:    st.Dispatched,
			FetchFailures: st.FetchFailures,
			FillFailures:  st.FillFailures,
			OpenHandles:   st.OpenHandles,
			QueueLen:      st.QueueLen,
		},
	}
	if m, err := a.ctrl.Mode(); err == nil {
		resp.Mode = m.String()
	}
	if t := a.ctrl.LastSpeech(); !t.IsZero() {
		t = t.UTC()
		resp.LastSpeech = &t
	}
	if info := a.session(); info.SessionID != "" {
		resp.Session = &info
	}
	for _, c := range a.ctrl.Commands() {
		resp.Commands = append(resp.Commands, commandResponse{ID: c.ID, Text: c.Text})
	}
	writeJSON(w, http.StatusOK, resp)
}

// modeRequest is the JSON body of PUT /v1/recognizer/mode.
type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	Mode string `json:"mode"`
}

// handleSetMode handles PUT /v1/recognizer/mode.
func (a *API) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		http.Error(w, "mode is required", http.StatusBadRequest)
		return
	}
	m, err := recognizer.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.ctrl.SetMode(m); err != nil {
		http.Error(w, "set mode: "+err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, modeResponse{Mode: m.String()})
}

// handleAction handles POST /v1/recognizer/{action}.
func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "pause":
		err = a.ctrl.Pause()
	case "resume":
		err = a.ctrl.Resume()
	default:
		http.Error(w, "unknown action "+action, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps recognizer errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recognizer.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, recognizer.ErrInvalidMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
