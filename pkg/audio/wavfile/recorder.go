package wavfile

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/MrWong99/hearken/pkg/audio"
)

// wavFormatPCM is the WAVE_FORMAT_PCM format tag.
const wavFormatPCM = 1

// Recorder writes pipeline PCM into a 16 kHz mono 16-bit WAV file. It
// implements [audio.Sink]. Safe for concurrent use.
type Recorder struct {
	path string

	mu      sync.Mutex
	file    afero.File
	enc     *wav.Encoder
	buf     *goaudio.IntBuffer
	samples []int16
	closed  bool
}

// NewRecorder creates dir on fs if needed and opens a new capture file named
// after the current time.
func NewRecorder(fs afero.Fs, dir string) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavfile: create capture dir %q: %w", dir, err)
	}
	name := "capture-" + time.Now().UTC().Format("20060102T150405.000Z") + ".wav"
	path := filepath.Join(dir, name)
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: create %q: %w", path, err)
	}
	return &Recorder{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, audio.SampleRate, 16, 1, wavFormatPCM),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: audio.SampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// Path returns the capture file path.
func (r *Recorder) Path() string { return r.path }

// Write appends little-endian 16-bit PCM to the capture file.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.New("wavfile: recorder closed")
	}
	n := len(p) / audio.BytesPerSample
	if cap(r.samples) < n {
		r.samples = make([]int16, n)
	}
	samples := audio.BytesToInt16(r.samples[:n], p)

	if cap(r.buf.Data) < n {
		r.buf.Data = make([]int, n)
	}
	r.buf.Data = r.buf.Data[:n]
	for i, s := range samples {
		r.buf.Data[i] = int(s)
	}
	if err := r.enc.Write(r.buf); err != nil {
		return 0, fmt.Errorf("wavfile: encode: %w", err)
	}
	return len(p), nil
}

// Close finalises the WAV header and closes the file. Calling Close more
// than once is safe.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.enc.Close(), r.file.Close())
}

var _ audio.Sink = (*Recorder)(nil)
