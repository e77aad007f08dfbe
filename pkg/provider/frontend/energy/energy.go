// Package energy implements [frontend.FrontEnd] in pure Go.
//
// Fed samples are cut into fetch-sized frames, classified by a [vad.Engine]
// session and queued for Fetch. While wake-phrase spotting is enabled, the
// engine collects each speech segment and hands it to a [wake.Detector] in a
// background goroutine once the segment ends, so slow detectors never stall
// the feed path. A positive detection is reported on the next fetched frame
// as [frontend.WakeDetected]; with channel verification enabled, the frame
// after that reports [frontend.WakeChannelVerified] for channel 0, the only
// channel of a mono microphone.
//
// The engine also tracks when speech was last heard, which callers use for
// idle detection.
package energy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
	"github.com/MrWong99/hearken/pkg/provider/vad"
	"github.com/MrWong99/hearken/pkg/provider/wake"
)

const (
	defaultChunk        = 512 // 32ms at 16kHz
	defaultFetchWait    = 40 * time.Millisecond
	defaultMaxSegment   = 3 * time.Second
	defaultQueueFrames  = 64
	defaultDetectBudget = 5 * time.Second
)

// wake stages reported by Fetch.
const (
	stageIdle int32 = iota
	stageDetected
	stageVerify
)

// Options tune an [Engine]. Zero values select defaults.
type Options struct {
	// FeedChunk is the number of samples per Feed call.
	FeedChunk int

	// FetchChunk is the number of samples per fetched frame.
	FetchChunk int

	// FetchWait bounds how long Fetch waits for a frame.
	FetchWait time.Duration

	// MaxSegment caps a wake candidate segment. Longer speech is submitted
	// for detection when the cap is reached.
	MaxSegment time.Duration

	// VerifyChannel makes the engine report WakeChannelVerified after
	// WakeDetected.
	VerifyChannel bool

	// VAD configures the per-engine VAD session. FrameSize and SampleRate
	// are overridden by the engine.
	VAD vad.Config
}

func (o Options) withDefaults() Options {
	if o.FeedChunk <= 0 {
		o.FeedChunk = defaultChunk
	}
	if o.FetchChunk <= 0 {
		o.FetchChunk = defaultChunk
	}
	if o.FetchWait <= 0 {
		o.FetchWait = defaultFetchWait
	}
	if o.MaxSegment <= 0 {
		o.MaxSegment = defaultMaxSegment
	}
	if o.VAD.SpeechThreshold == 0 {
		o.VAD.SpeechThreshold = 0.5
	}
	if o.VAD.SilenceThreshold == 0 {
		o.VAD.SilenceThreshold = 0.35
	}
	if o.VAD.HangoverFrames == 0 {
		o.VAD.HangoverFrames = 8
	}
	return o
}

// Factory creates energy engines sharing one VAD engine and wake detector.
type Factory struct {
	VAD      vad.Engine
	Detector wake.Detector
	Options  Options
}

// New creates an Engine. Options present in cfg.Options override the
// factory's Options: "feed_chunk", "fetch_chunk" (ints) and
// "verify_channel" (bool).
func (f *Factory) New(cfg frontend.Config) (frontend.FrontEnd, error) {
	opts := f.Options
	if v, ok := cfg.Options["feed_chunk"].(int); ok {
		opts.FeedChunk = v
	}
	if v, ok := cfg.Options["fetch_chunk"].(int); ok {
		opts.FetchChunk = v
	}
	if v, ok := cfg.Options["verify_channel"].(bool); ok {
		opts.VerifyChannel = v
	}
	return New(f.VAD, f.Detector, cfg, opts)
}

var _ frontend.Factory = (*Factory)(nil)

// Engine is the energy front end. Feed and Fetch may run on different
// goroutines.
type Engine struct {
	opts       Options
	sampleRate int
	detector   wake.Detector

	frames chan *frontend.FetchResult

	// Feed-side state, confined to the Feed caller.
	feedMu  sync.Mutex
	vadSess vad.SessionHandle
	pending []int16
	segment []int16
	maxSeg  int

	wakeEnabled atomic.Bool
	wakeStage   atomic.Int32
	lastSpeech  atomic.Int64
	dropped     atomic.Int64

	segments chan []int16
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New creates an engine using vadEngine for speech classification and
// detector for wake-phrase decisions. detector may be nil, in which case wake
// spotting never triggers.
func New(vadEngine vad.Engine, detector wake.Detector, cfg frontend.Config, opts Options) (*Engine, error) {
	if vadEngine == nil {
		return nil, errors.New("energy: vad engine is required")
	}
	opts = opts.withDefaults()
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
	}

	vcfg := opts.VAD
	vcfg.SampleRate = rate
	vcfg.FrameSize = opts.FetchChunk
	sess, err := vadEngine.NewSession(vcfg)
	if err != nil {
		return nil, fmt.Errorf("energy: create vad session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:       opts,
		sampleRate: rate,
		detector:   detector,
		frames:     make(chan *frontend.FetchResult, defaultQueueFrames),
		vadSess:    sess,
		maxSeg:     int(opts.MaxSegment.Seconds() * float64(rate)),
		segments:   make(chan []int16, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.wakeEnabled.Store(cfg.WakeWord)

	e.wg.Add(1)
	go e.detectLoop()
	return e, nil
}

// Feed appends samples and emits every complete fetch frame.
func (e *Engine) Feed(samples []int16) error {
	if len(samples) != e.opts.FeedChunk {
		return fmt.Errorf("energy: feed got %d samples, want %d", len(samples), e.opts.FeedChunk)
	}
	if e.ctx.Err() != nil {
		return errors.New("energy: engine closed")
	}

	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	e.pending = append(e.pending, samples...)
	for len(e.pending) >= e.opts.FetchChunk {
		frame := make([]int16, e.opts.FetchChunk)
		copy(frame, e.pending)
		e.pending = append(e.pending[:0], e.pending[e.opts.FetchChunk:]...)
		e.process(frame)
	}
	return nil
}

// process classifies one frame, tracks the wake segment and queues the
// frame for Fetch. Must hold feedMu.
func (e *Engine) process(frame []int16) {
	res := &frontend.FetchResult{Data: frame, OK: true}

	ev, err := e.vadSess.ProcessFrame(frame)
	if err != nil {
		slog.Warn("energy: vad failed", "err", err)
	} else if ev.Type.IsSpeech() {
		res.VADState = frontend.VADSpeech
		e.lastSpeech.Store(time.Now().UnixNano())
	}

	if e.wakeEnabled.Load() && e.detector != nil {
		switch {
		case err == nil && ev.Type.IsSpeech():
			e.segment = append(e.segment, frame...)
			if len(e.segment) >= e.maxSeg {
				e.submit()
			}
		case err == nil && ev.Type == vad.SpeechEnd:
			e.segment = append(e.segment, frame...)
			e.submit()
		}
	} else if len(e.segment) > 0 {
		e.segment = e.segment[:0]
	}

	select {
	case e.frames <- res:
	default:
		// Keep the newest audio: drop the oldest frame and retry once.
		select {
		case <-e.frames:
			e.dropped.Add(1)
		default:
		}
		select {
		case e.frames <- res:
		default:
			e.dropped.Add(1)
		}
	}
}

// submit hands the current segment to the detector goroutine. A segment
// arriving while the detector is busy is discarded. Must hold feedMu.
func (e *Engine) submit() {
	seg := make([]int16, len(e.segment))
	copy(seg, e.segment)
	e.segment = e.segment[:0]
	select {
	case e.segments <- seg:
	default:
		slog.Debug("energy: wake detector busy, segment discarded", "samples", len(seg))
	}
}

func (e *Engine) detectLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case seg := <-e.segments:
			ctx, cancel := context.WithTimeout(e.ctx, defaultDetectBudget)
			hit, err := e.detector.Detect(ctx, seg)
			cancel()
			if err != nil {
				if e.ctx.Err() == nil {
					slog.Warn("energy: wake detection failed", "err", err)
				}
				continue
			}
			if hit && e.wakeEnabled.Load() {
				e.wakeStage.Store(stageDetected)
			}
		}
	}
}

// Fetch returns the next frame, annotated with the current wake stage.
func (e *Engine) Fetch() (*frontend.FetchResult, error) {
	select {
	case res := <-e.frames:
		if e.wakeEnabled.Load() {
			switch e.wakeStage.Load() {
			case stageDetected:
				res.WakeState = frontend.WakeDetected
				next := stageIdle
				if e.opts.VerifyChannel {
					next = stageVerify
				}
				e.wakeStage.CompareAndSwap(stageDetected, next)
			case stageVerify:
				res.WakeState = frontend.WakeChannelVerified
				res.TriggerChannel = 0
				e.wakeStage.CompareAndSwap(stageVerify, stageIdle)
			}
		}
		return res, nil
	case <-e.ctx.Done():
		return nil, errors.New("energy: engine closed")
	case <-time.After(e.opts.FetchWait):
		return nil, frontend.ErrNoData
	}
}

// EnableWakeNet turns wake spotting on.
func (e *Engine) EnableWakeNet() {
	e.wakeStage.Store(stageIdle)
	e.wakeEnabled.Store(true)
}

// DisableWakeNet turns wake spotting off and forgets any pending detection.
func (e *Engine) DisableWakeNet() {
	e.wakeEnabled.Store(false)
	e.wakeStage.Store(stageIdle)
}

// FeedChunkSize returns the number of samples Feed expects.
func (e *Engine) FeedChunkSize() int { return e.opts.FeedChunk }

// FetchChunkSize returns the number of samples per fetched frame.
func (e *Engine) FetchChunkSize() int { return e.opts.FetchChunk }

// LastSpeech returns when speech was last classified, or the zero time.
func (e *Engine) LastSpeech() time.Time {
	ns := e.lastSpeech.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Dropped returns the number of frames discarded because nobody fetched
// them in time.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }

// Close stops the detector goroutine and releases the VAD session.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.feedMu.Lock()
		e.closeErr = e.vadSess.Close()
		e.feedMu.Unlock()
	})
	return e.closeErr
}

var _ frontend.FrontEnd = (*Engine)(nil)
