// Package events fans recognizer events out to websocket subscribers such
// as displays and speech-output clients.
//
// Subscribers connect to the hub's HTTP handler and receive one JSON text
// message per event. Publishing never blocks: a subscriber whose buffer is
// full is disconnected.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hearken/internal/observe"
)

const (
	defaultBuffer = 16
	writeTimeout  = 5 * time.Second
)

// Message is the JSON payload sent to subscribers.
type Message struct {
	// Kind is the event kind, e.g. "wake_word" or "command".
	Kind string `json:"kind"`

	// CommandID and PhraseID are -1 when they do not apply. For
	// "wake_word_channel" CommandID holds the channel.
	CommandID int `json:"command_id"`
	PhraseID  int `json:"phrase_id"`

	// Text is the command label for "command" events.
	Text string `json:"text,omitempty"`

	// Mode is the recognizer mode after the event was handled.
	Mode string `json:"mode,omitempty"`

	Time time.Time `json:"time"`
}

// Options configures a [Hub].
type Options struct {
	// Buffer is the number of undelivered messages a subscriber may hold
	// before it is disconnected. Default 16.
	Buffer int

	// OriginPatterns lists additional origins allowed to connect.
	OriginPatterns []string

	// Metrics records the subscriber count. Nil uses observe.DefaultMetrics.
	Metrics *observe.Metrics
}

type subscriber struct {
	msgs      chan []byte
	closeSlow func()
}

// Hub is an http.Handler that upgrades requests to websockets and delivers
// published messages to every connection.
type Hub struct {
	opts Options

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

// NewHub returns an empty hub.
func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Hub{
		opts: opts,
		subs: make(map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

// ServeHTTP accepts a websocket subscription. It returns when the client
// disconnects, falls behind, or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		slog.Warn("events: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	// Subscribers only listen; CloseRead handles control frames.
	ctx := conn.CloseRead(r.Context())

	s := &subscriber{
		msgs: make(chan []byte, h.opts.Buffer),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		},
	}
	if !h.add(ctx, s) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(s)
	slog.Debug("events: subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case msg := <-s.msgs:
			if err := write(ctx, conn, msg); err != nil {
				slog.Debug("events: subscriber write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case <-ctx.Done():
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

func (h *Hub) add(ctx context.Context, s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	h.opts.Metrics.EventSubscribers.Add(ctx, 1)
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	h.opts.Metrics.EventSubscribers.Add(context.Background(), -1)
}

// Publish sends msg to every subscriber without blocking. A zero Time is
// set to now.
func (h *Hub) Publish(msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("events: hub closed")
	}
	for s := range h.subs {
		select {
		case s.msgs <- data:
		default:
			go s.closeSlow()
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones. It is safe to
// call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}
