// Package audio provides the capture-side audio abstractions used by hearken:
// the [Source] interface that feeds the recognizer, PCM conversion helpers,
// and a [Tee] that mirrors captured audio to a secondary sink.
//
// All audio in the recognizer pipeline is 16-bit little-endian signed PCM,
// mono, at [SampleRate] Hz. Sources that capture in other formats convert
// with a [Converter] before handing samples out.
package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// SampleRate is the pipeline sample rate in Hz.
const SampleRate = 16000

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// ErrSourceClosed is returned by Fill after the source was closed.
var ErrSourceClosed = errors.New("audio: source closed")

// Source delivers raw microphone audio.
//
// Fill blocks until len(out) bytes of 16 kHz mono PCM are available, the
// timeout elapses, or ctx is cancelled. A timeout of zero or less waits
// indefinitely. Fill returns the number of bytes written; a short read is
// reported together with an error.
//
// Fill is called from a single goroutine. Close may be called concurrently
// with a blocked Fill and must unblock it.
type Source interface {
	Fill(ctx context.Context, out []byte, timeout time.Duration) (int, error)
	Close() error
}

// Sink receives a copy of captured PCM. See [Tee].
type Sink interface {
	io.Writer
	io.Closer
}

// Tee wraps a Source so that every successfully filled buffer is also written
// to a Sink. Sink write failures are logged once and never fail Fill.
type Tee struct {
	src  Source
	sink Sink

	warnOnce sync.Once
}

// NewTee returns a Source that mirrors src into sink.
func NewTee(src Source, sink Sink) *Tee {
	return &Tee{src: src, sink: sink}
}

// Fill reads from the wrapped source and mirrors the bytes read into the
// sink.
func (t *Tee) Fill(ctx context.Context, out []byte, timeout time.Duration) (int, error) {
	n, err := t.src.Fill(ctx, out, timeout)
	if n > 0 {
		if _, werr := t.sink.Write(out[:n]); werr != nil {
			t.warnOnce.Do(func() {
				slog.Warn("audio tee: sink write failed, further errors suppressed", "err", werr)
			})
		}
	}
	return n, err
}

// Close closes the sink and the wrapped source.
func (t *Tee) Close() error {
	return errors.Join(t.src.Close(), t.sink.Close())
}

var _ Source = (*Tee)(nil)
