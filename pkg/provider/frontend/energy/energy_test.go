package energy_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/frontend"
	"github.com/MrWong99/hearken/pkg/provider/frontend/energy"
	"github.com/MrWong99/hearken/pkg/provider/vad"
	vadmock "github.com/MrWong99/hearken/pkg/provider/vad/mock"
	"github.com/MrWong99/hearken/pkg/provider/wake"
)

func newEngine(t *testing.T, sess *vadmock.Session, det wake.Detector, cfg frontend.Config, opts energy.Options) *energy.Engine {
	t.Helper()
	e, err := energy.New(&vadmock.Engine{Session: sess}, det, cfg, opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func fetchN(t *testing.T, e *energy.Engine, n int) []*frontend.FetchResult {
	t.Helper()
	out := make([]*frontend.FetchResult, 0, n)
	for range n {
		res, err := e.Fetch()
		if err != nil {
			t.Fatalf("Fetch() error: %v", err)
		}
		out = append(out, res)
	}
	return out
}

func TestEngine_FramesFedSamples(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Default: vadmock.Quiet}
	e := newEngine(t, sess, nil, frontend.Config{}, energy.Options{FeedChunk: 256, FetchChunk: 512})

	if got := e.FeedChunkSize(); got != 256 {
		t.Errorf("FeedChunkSize() = %d, want 256", got)
	}
	if got := e.FetchChunkSize(); got != 512 {
		t.Errorf("FetchChunkSize() = %d, want 512", got)
	}

	for range 3 {
		if err := e.Feed(make([]int16, 256)); err != nil {
			t.Fatalf("Feed() error: %v", err)
		}
	}
	if got := sess.FrameCount(); got != 1 || sess.Frames[0] != 512 {
		t.Errorf("vad saw frames %v, want one of 512 samples", sess.Frames)
	}
	res := fetchN(t, e, 1)[0]
	if len(res.Data) != 512 || !res.OK {
		t.Errorf("frame = %d samples ok=%v, want 512 ok=true", len(res.Data), res.OK)
	}
	// The remaining 256 samples wait for the next feed.
	if _, err := e.Fetch(); !errors.Is(err, frontend.ErrNoData) {
		t.Errorf("Fetch() error = %v, want ErrNoData", err)
	}
}

func TestEngine_FeedRejectsWrongChunk(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &vadmock.Session{}, nil, frontend.Config{}, energy.Options{FeedChunk: 320})
	if err := e.Feed(make([]int16, 100)); err == nil {
		t.Error("expected error for short feed")
	}
}

func TestEngine_VADStateAndLastSpeech(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{
		Events:  []vad.Event{{Type: vad.Silence}, {Type: vad.SpeechStart, Probability: 0.9}},
		Default: vadmock.Quiet,
	}
	e := newEngine(t, sess, nil, frontend.Config{}, energy.Options{})

	if !e.LastSpeech().IsZero() {
		t.Error("LastSpeech should be zero before any speech")
	}
	before := time.Now()
	for range 2 {
		if err := e.Feed(make([]int16, e.FeedChunkSize())); err != nil {
			t.Fatalf("Feed() error: %v", err)
		}
	}
	got := fetchN(t, e, 2)
	if got[0].VADState != frontend.VADSilence {
		t.Errorf("frame 0 VAD = %v, want silence", got[0].VADState)
	}
	if got[1].VADState != frontend.VADSpeech {
		t.Errorf("frame 1 VAD = %v, want speech", got[1].VADState)
	}
	if e.LastSpeech().Before(before) {
		t.Errorf("LastSpeech = %v, want after %v", e.LastSpeech(), before)
	}
}

// speechThenEnd scripts n speech frames followed by a segment end.

func TestEngine_WakeDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		verify bool
		want   []frontend.WakeState
	}{
		{
			name: "detected only",
			want: []frontend.WakeState{frontend.WakeDetected, frontend.WakeNone},
		},
		{
			name:   "with channel verification",
			verify: true,
			want:   []frontend.WakeState{frontend.WakeDetected, frontend.WakeChannelVerified, frontend.WakeNone},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var segLen atomic.Int64
			hit := make(chan struct{})
			det := wake.DetectorFunc(func(_ context.Context, seg []int16) (bool, error) {
				segLen.Store(int64(len(seg)))
				close(hit)
				return true, nil
			})
			sess := &vadmock.Session{Events: vadmock.Utterance(3), Default: vadmock.Quiet}
			e := newEngine(t, sess, det, frontend.Config{WakeWord: true},
				energy.Options{VerifyChannel: tc.verify})

			for range 4 {
				if err := e.Feed(make([]int16, e.FeedChunkSize())); err != nil {
					t.Fatalf("Feed() error: %v", err)
				}
			}
			// Drain the speech frames; they precede the detection.
			fetchN(t, e, 4)

			select {
			case <-hit:
			case <-time.After(2 * time.Second):
				t.Fatal("detector was not called")
			}
			if got := segLen.Load(); got != int64(4*e.FetchChunkSize()) {
				t.Errorf("segment = %d samples, want %d", got, 4*e.FetchChunkSize())
			}

			// Detection is stored asynchronously after the callback returns.
			time.Sleep(20 * time.Millisecond)
			for range len(tc.want) {
				if err := e.Feed(make([]int16, e.FeedChunkSize())); err != nil {
					t.Fatalf("Feed() error: %v", err)
				}
			}
			got := fetchN(t, e, len(tc.want))
			for i, w := range tc.want {
				if got[i].WakeState != w {
					t.Errorf("frame %d wake = %v, want %v", i, got[i].WakeState, w)
				}
			}
		})
	}
}

func TestEngine_DisableWakeNetSkipsDetection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	det := wake.DetectorFunc(func(context.Context, []int16) (bool, error) {
		calls.Add(1)
		return true, nil
	})
	sess := &vadmock.Session{Events: vadmock.Utterance(2), Default: vadmock.Quiet}
	e := newEngine(t, sess, det, frontend.Config{WakeWord: true}, energy.Options{})
	e.DisableWakeNet()

	for range 5 {
		if err := e.Feed(make([]int16, e.FeedChunkSize())); err != nil {
			t.Fatalf("Feed() error: %v", err)
		}
	}
	for _, res := range fetchN(t, e, 5) {
		if res.WakeState != frontend.WakeNone {
			t.Errorf("wake state = %v with wake net disabled", res.WakeState)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("detector called %d times, want 0", n)
	}
}

func TestEngine_DropsOldestWhenUnread(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &vadmock.Session{Default: vadmock.Quiet}, nil, frontend.Config{}, energy.Options{})
	for range 70 {
		if err := e.Feed(make([]int16, e.FeedChunkSize())); err != nil {
			t.Fatalf("Feed() error: %v", err)
		}
	}
	if got := e.Dropped(); got != 6 {
		t.Errorf("Dropped() = %d, want 6", got)
	}
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{}
	e, err := energy.New(&vadmock.Engine{Session: sess}, nil, frontend.Config{}, energy.Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("vad session closed %d times, want 1", sess.CloseCallCount)
	}
	if err := e.Feed(make([]int16, e.FeedChunkSize())); err == nil {
		t.Error("Feed after Close should fail")
	}
	if _, err := e.Fetch(); err == nil || errors.Is(err, frontend.ErrNoData) {
		t.Errorf("Fetch after Close error = %v, want closed error", err)
	}
}

func TestFactory_OptionsOverride(t *testing.T) {
	t.Parallel()

	vadEng := &vadmock.Engine{}
	f := &energy.Factory{VAD: vadEng, Options: energy.Options{FeedChunk: 512}}
	fe, err := f.New(frontend.Config{SampleRate: 16000, Options: map[string]any{"feed_chunk": 160, "fetch_chunk": 320}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = fe.Close() })

	if fe.FeedChunkSize() != 160 || fe.FetchChunkSize() != 320 {
		t.Errorf("chunks = %d/%d, want 160/320", fe.FeedChunkSize(), fe.FetchChunkSize())
	}
	if len(vadEng.NewSessionCalls) != 1 || vadEng.NewSessionCalls[0].FrameSize != 320 {
		t.Errorf("vad session config = %+v, want frame size 320", vadEng.NewSessionCalls)
	}
}

func TestNew_RequiresVAD(t *testing.T) {
	t.Parallel()
	if _, err := energy.New(nil, nil, frontend.Config{}, energy.Options{}); err == nil {
		t.Error("expected error without vad engine")
	}
}
