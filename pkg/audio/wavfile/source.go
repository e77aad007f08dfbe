// Package wavfile reads and writes WAV files for the recognizer pipeline.
//
// [Source] replays a WAV file as if it were a microphone, converting it to
// 16 kHz mono and pacing delivery at real time. [Recorder] is an
// [audio.Sink] that captures the fed PCM into WAV files, used for the
// optional capture feature. Both work on an [afero.Fs] so tests can run
// against an in-memory filesystem.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/MrWong99/hearken/pkg/audio"
)

// SourceOption is a functional option for [Open].
type SourceOption func(*Source)

// WithLoop restarts playback from the beginning when the file ends instead
// of returning io.EOF.
func WithLoop(loop bool) SourceOption {
	return func(s *Source) { s.loop = loop }
}

// WithRealtime paces Fill so audio is delivered no faster than it would be
// captured. Defaults to true.
func WithRealtime(realtime bool) SourceOption {
	return func(s *Source) { s.realtime = realtime }
}

// Source replays a decoded WAV file.
type Source struct {
	loop     bool
	realtime bool

	mu      sync.Mutex
	samples []int16
	pos     int
	started time.Time
	played  int
	closed  bool
}

// Open decodes the WAV file at path on fs and returns a Source for it.
func Open(fs afero.Fs, path string, opts ...SourceOption) (*Source, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	samples, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}

	s := &Source{samples: samples, realtime: true}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Decode reads a whole WAV stream and returns it as 16 kHz mono samples.
func Decode(r io.ReadSeeker) ([]int16, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, errors.New("empty wav file")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	raw := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		raw[i] = scaleTo16(v, depth)
	}

	from := audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if buf.Format != nil {
		from = audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	}
	conv := audio.Converter{From: from}
	return conv.Convert(raw), nil
}

func scaleTo16(v, depth int) int16 {
	switch {
	case depth == 8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		return int16(v)
	}
}

// Fill copies the next len(out)/2 samples into out. At end of file it
// returns the bytes copied so far and io.EOF, unless looping.
func (s *Source) Fill(ctx context.Context, out []byte, _ time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, audio.ErrSourceClosed
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}

	want := len(out) / audio.BytesPerSample
	chunk := make([]int16, 0, want)
	for len(chunk) < want {
		if s.pos >= len(s.samples) {
			if !s.loop {
				break
			}
			s.pos = 0
		}
		n := min(want-len(chunk), len(s.samples)-s.pos)
		chunk = append(chunk, s.samples[s.pos:s.pos+n]...)
		s.pos += n
	}
	s.played += len(chunk)
	due := s.started.Add(time.Duration(s.played) * time.Second / audio.SampleRate)
	s.mu.Unlock()

	n := copy(out, audio.Int16ToBytes(chunk))
	if s.realtime {
		if wait := time.Until(due); wait > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	if len(chunk) < want {
		return n, io.EOF
	}
	return n, nil
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ audio.Source = (*Source)(nil)
