package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// PipelineFormat is the format the recognizer consumes.
var PipelineFormat = Format{SampleRate: SampleRate, Channels: 1}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Converter turns interleaved int16 samples in a source format into
// [PipelineFormat]. It logs a warning the first time it has to convert.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	From Format

	warnOnce sync.Once
}

// Convert downmixes and resamples samples to 16 kHz mono. When From already
// matches the pipeline format the input is returned unchanged.
func (c *Converter) Convert(samples []int16) []int16 {
	if c.From == PipelineFormat || c.From.SampleRate == 0 {
		return samples
	}
	c.warnOnce.Do(func() {
		slog.Warn("audio format mismatch: converting", "from", c.From.String(), "to", PipelineFormat.String())
	})

	out := samples
	if c.From.Channels > 1 {
		out = Downmix(out, c.From.Channels)
	}
	if c.From.SampleRate != SampleRate {
		out = Resample(out, c.From.SampleRate, SampleRate)
	}
	return out
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing partial frame is dropped.
func Downmix(interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(interleaved[i*channels+c])
		}
		out[i] = clamp16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// BytesToInt16 decodes little-endian PCM into dst, which must hold at least
// len(b)/2 samples. It returns the filled prefix of dst.
func BytesToInt16(dst []int16, b []byte) []int16 {
	n := len(b) / BytesPerSample
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return dst[:n]
}

// Int16ToBytes encodes samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Int16ToFloat32 normalises samples to [-1, 1].
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square level of samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
