// Package portaudio implements [audio.Source] on top of the system's default
// input device through PortAudio.
//
// The stream is opened in the pipeline format (16 kHz mono int16) so no
// conversion is needed. Each blocking stream read covers FramesPerBuffer
// samples; Fill stitches reads together until the caller's buffer is full.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hearken/pkg/audio"
)

const defaultFramesPerBuffer = 512

// Option is a functional option for [New].
type Option func(*Source)

// WithFramesPerBuffer sets the PortAudio buffer size in samples. Smaller
// buffers lower latency and raise CPU load. Defaults to 512.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// Source captures audio from the default PortAudio input device.
type Source struct {
	framesPerBuffer int

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	pending []int16
	closed  bool
}

// New initialises PortAudio, opens the default input stream and starts it.
// The caller must call Close to release the device.
func New(opts ...Option) (*Source, error) {
	s := &Source{framesPerBuffer: defaultFramesPerBuffer}
	for _, o := range opts {
		o(s)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	s.buf = make([]int16, s.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.SampleRate), len(s.buf), s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Fill reads from the device until out is full. A positive timeout bounds
// the whole call; ctx cancellation is observed between device reads.
func (s *Source) Fill(ctx context.Context, out []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	want := len(out) / audio.BytesPerSample
	got := 0
	for got < want {
		if err := ctx.Err(); err != nil {
			return got * audio.BytesPerSample, err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return got * audio.BytesPerSample, context.DeadlineExceeded
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return got * audio.BytesPerSample, audio.ErrSourceClosed
		}
		if len(s.pending) == 0 {
			if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
				s.mu.Unlock()
				return got * audio.BytesPerSample, fmt.Errorf("portaudio: read: %w", err)
			}
			s.pending = append(s.pending[:0], s.buf...)
		}
		n := min(len(s.pending), want-got)
		copy(out[got*audio.BytesPerSample:], audio.Int16ToBytes(s.pending[:n]))
		s.pending = s.pending[n:]
		s.mu.Unlock()
		got += n
	}
	return got * audio.BytesPerSample, nil
}

// Close stops the stream and terminates PortAudio. Calling Close more than
// once is safe.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
}

var _ audio.Source = (*Source)(nil)
