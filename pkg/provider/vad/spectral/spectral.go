// Package spectral implements [vad.Engine] with a lightweight spectral
// detector that needs no model file.
//
// For each frame the detector computes a Hann-windowed FFT and measures how
// much of the frame's energy falls into the speech band (300–3400 Hz by
// default). The band ratio is weighted by the frame's level above an adaptive
// noise floor to form a speech probability. A hysteresis state machine with a
// hangover turns per-frame probabilities into speech segments.
package spectral

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/MrWong99/hearken/pkg/provider/vad"
)

const (
	defaultBandLow    = 300.0
	defaultBandHigh   = 3400.0
	initialNoiseFloor = -70.0 // dBFS
	minNoiseFloor     = -90.0 // dBFS
	noiseAdaptRate    = 0.05
	snrMidpoint       = 12.0 // dB above the floor where probability reaches 0.5
	snrSlope          = 3.0
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithBand sets the speech band in Hz.
func WithBand(low, high float64) Option {
	return func(e *Engine) {
		if low >= 0 && high > low {
			e.bandLow, e.bandHigh = low, high
		}
	}
}

// Engine creates spectral VAD sessions. It is stateless and safe for
// concurrent use.
type Engine struct {
	bandLow  float64
	bandHigh float64
}

// New returns an Engine configured with the supplied options.
func New(opts ...Option) *Engine {
	e := &Engine{bandLow: defaultBandLow, bandHigh: defaultBandHigh}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession validates cfg and returns a fresh detector session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:      cfg,
		bandLow:  e.bandLow,
		bandHigh: e.bandHigh,
		window:   hann(cfg.FrameSize),
		buf:      make([]float64, cfg.FrameSize),
		noise:    initialNoiseFloor,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a single-stream spectral detector. Not safe for concurrent use.
type Session struct {
	cfg      vad.Config
	bandLow  float64
	bandHigh float64
	window   []float64
	buf      []float64

	noise     float64
	speaking  bool
	silentRun int
	closed    bool
}

// ProcessFrame classifies one frame.
func (s *Session) ProcessFrame(frame []int16) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, fmt.Errorf("spectral: session closed")
	}
	if len(frame) != s.cfg.FrameSize {
		return vad.Event{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.cfg.FrameSize)
	}

	prob, level := s.probability(frame)

	var typ vad.EventType
	switch {
	case !s.speaking && prob >= s.cfg.SpeechThreshold:
		s.speaking = true
		s.silentRun = 0
		typ = vad.SpeechStart
	case s.speaking && prob < s.cfg.SilenceThreshold:
		s.silentRun++
		if s.silentRun > s.cfg.HangoverFrames {
			s.speaking = false
			s.silentRun = 0
			typ = vad.SpeechEnd
		} else {
			typ = vad.SpeechContinue
		}
	case s.speaking:
		s.silentRun = 0
		typ = vad.SpeechContinue
	default:
		typ = vad.Silence
	}

	if !s.speaking {
		s.noise += noiseAdaptRate * (level - s.noise)
		s.noise = max(s.noise, minNoiseFloor)
	}
	return vad.Event{Type: typ, Probability: prob}, nil
}

// probability returns the speech probability and the frame level in dBFS.
func (s *Session) probability(frame []int16) (float64, float64) {
	var sumSq float64
	for i, v := range frame {
		x := float64(v) / 32768.0
		sumSq += x * x
		s.buf[i] = x * s.window[i]
	}
	rms := math.Sqrt(sumSq / float64(len(frame)))
	level := 20 * math.Log10(rms+1e-9)
	if rms == 0 {
		return 0, level
	}

	spec := fft.FFTReal(s.buf)
	n := len(spec)
	binHz := float64(s.cfg.SampleRate) / float64(n)
	var band, total float64
	for k := 1; k <= n/2; k++ {
		p := cmplx.Abs(spec[k])
		p *= p
		total += p
		if f := float64(k) * binHz; f >= s.bandLow && f <= s.bandHigh {
			band += p
		}
	}
	if total == 0 {
		return 0, level
	}
	ratio := band / total
	snr := level - s.noise
	weight := 1 / (1 + math.Exp(-(snr-snrMidpoint)/snrSlope))
	return ratio * weight, level
}

// Reset clears the speech state and noise estimate.
func (s *Session) Reset() {
	s.speaking = false
	s.silentRun = 0
	s.noise = initialNoiseFloor
}

// Close marks the session closed. Calling Close more than once is safe.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
