// Package phrase implements [classifier.Classifier] on top of a speech
// transcriber and the phonetic matcher.
//
// Frames passed to Detect are buffered while a VAD session watches for the
// end of an utterance. The utterance is then transcribed and ranked against
// the installed command phrases; a phrase that passes the matcher's
// thresholds yields Detected. The listening window is measured in audio
// time, not wall time, so the outcome depends only on the frames received.
package phrase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/hearken/internal/phonetic"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/transcribe"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

const (
	defaultChunk            = 512
	defaultMaxDuration      = 6 * time.Second
	defaultTranscribeBudget = 10 * time.Second
	defaultMinSpeechFrames  = 3
)

// Options tune a [Classifier]. Zero values select defaults.
type Options struct {
	// Chunk is the number of samples per Detect call.
	Chunk int

	// MinSpeechFrames is the number of speech frames an utterance needs
	// before it is transcribed. Shorter blips are discarded.
	MinSpeechFrames int

	// TranscribeBudget bounds a single transcription.
	TranscribeBudget time.Duration

	// VAD configures the endpointing session. FrameSize and SampleRate are
	// set by the classifier.
	VAD vad.Config

	// Matcher ranks transcripts against installed phrases.
	Matcher *phonetic.Matcher
}

func (o Options) withDefaults() Options {
	if o.Chunk <= 0 {
		o.Chunk = defaultChunk
	}
	if o.MinSpeechFrames <= 0 {
		o.MinSpeechFrames = defaultMinSpeechFrames
	}
	if o.TranscribeBudget <= 0 {
		o.TranscribeBudget = defaultTranscribeBudget
	}
	if o.VAD.SpeechThreshold == 0 {
		o.VAD.SpeechThreshold = 0.5
	}
	if o.VAD.SilenceThreshold == 0 {
		o.VAD.SilenceThreshold = 0.35
	}
	if o.VAD.HangoverFrames == 0 {
		o.VAD.HangoverFrames = 10
	}
	if o.Matcher == nil {
		o.Matcher = phonetic.New()
	}
	return o
}

// Factory creates phrase classifiers sharing a VAD engine and transcriber.
type Factory struct {
	VAD         vad.Engine
	Transcriber transcribe.Transcriber
	Options     Options
}

// New creates a Classifier. It returns [classifier.ErrNoModel] when no
// transcriber is configured. cfg.Options may override "chunk" (int).
func (f *Factory) New(cfg classifier.Config) (classifier.Classifier, error) {
	if f.Transcriber == nil {
		return nil, classifier.ErrNoModel
	}
	opts := f.Options
	if v, ok := cfg.Options["chunk"].(int); ok {
		opts.Chunk = v
	}
	return New(f.VAD, f.Transcriber, cfg, opts)
}

var _ classifier.Factory = (*Factory)(nil)

type entry struct {
	id      int
	phoneme string
}

// Classifier recognises installed command phrases in transcribed speech.
type Classifier struct {
	opts        Options
	transcriber transcribe.Transcriber
	sess        vad.SessionHandle
	maxSamples  int

	staged []entry
	active []entry
	texts  []string

	buf          []int16
	elapsed      int
	speechFrames int
	results      []classifier.Candidate

	closed bool
}

// New creates a Classifier.
func New(vadEngine vad.Engine, t transcribe.Transcriber, cfg classifier.Config, opts Options) (*Classifier, error) {
	if vadEngine == nil {
		return nil, errors.New("phrase classifier: vad engine is required")
	}
	if t == nil {
		return nil, classifier.ErrNoModel
	}
	opts = opts.withDefaults()
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
	}
	maxDur := cfg.MaxDuration
	if maxDur <= 0 {
		maxDur = defaultMaxDuration
	}

	vcfg := opts.VAD
	vcfg.SampleRate = rate
	vcfg.FrameSize = opts.Chunk
	sess, err := vadEngine.NewSession(vcfg)
	if err != nil {
		return nil, fmt.Errorf("phrase classifier: create vad session: %w", err)
	}
	return &Classifier{
		opts:        opts,
		transcriber: t,
		sess:        sess,
		maxSamples:  int(maxDur.Seconds() * float64(rate)),
	}, nil
}

// Detect consumes one frame.
func (c *Classifier) Detect(frame []int16) classifier.State {
	c.buf = append(c.buf, frame...)
	c.elapsed += len(frame)

	ev, err := c.sess.ProcessFrame(frame)
	if err != nil {
		slog.Warn("phrase classifier: vad failed", "err", err)
	}
	switch {
	case err == nil && ev.Type.IsSpeech():
		c.speechFrames++
	case err == nil && ev.Type == vad.SpeechEnd:
		if c.speechFrames >= c.opts.MinSpeechFrames {
			if c.classify() {
				c.reset()
				return classifier.Detected
			}
		}
		c.buf = c.buf[:0]
		c.speechFrames = 0
	case c.speechFrames == 0:
		// Leading silence is not worth transcribing.
		c.buf = c.buf[:0]
	}

	if c.elapsed >= c.maxSamples {
		c.reset()
		return classifier.Timeout
	}
	return classifier.Detecting
}

// classify transcribes the buffered utterance and stores ranked candidates.
func (c *Classifier) classify() bool {
	if len(c.active) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TranscribeBudget)
	defer cancel()
	text, err := c.transcriber.Transcribe(ctx, c.buf)
	if err != nil {
		slog.Warn("phrase classifier: transcription failed", "err", err)
		return false
	}
	matches := c.opts.Matcher.Rank(text, c.texts)
	slog.Debug("phrase classifier: utterance", "text", text, "matches", len(matches))
	if len(matches) == 0 {
		return false
	}
	results := make([]classifier.Candidate, 0, len(matches))
	for _, m := range matches {
		results = append(results, classifier.Candidate{
			CommandID:   c.active[m.Index].id,
			PhraseID:    m.Index,
			Probability: m.Score,
		})
	}
	c.results = results
	return true
}

func (c *Classifier) reset() {
	c.buf = c.buf[:0]
	c.elapsed = 0
	c.speechFrames = 0
	c.sess.Reset()
}

// Results returns the candidates of the last detection, best first.
func (c *Classifier) Results() []classifier.Candidate {
	out := make([]classifier.Candidate, len(c.results))
	copy(out, c.results)
	return out
}

// ChunkSize returns the number of samples Detect expects.
func (c *Classifier) ChunkSize() int { return c.opts.Chunk }

// ClearCommands drops staged and active commands.
func (c *Classifier) ClearCommands() {
	c.staged = nil
	c.active = nil
	c.texts = nil
}

// AddCommand stages a phrase for id. Several phrases may share an id; each
// becomes its own phrase ID in the order committed.
func (c *Classifier) AddCommand(id int, phoneme string) error {
	if phoneme == "" {
		return fmt.Errorf("phrase classifier: command %d: empty phoneme", id)
	}
	c.staged = append(c.staged, entry{id: id, phoneme: phoneme})
	return nil
}

// CommitCommands activates staged phrases. Phrases without phonetic content
// cannot be matched and are rejected.
func (c *Classifier) CommitCommands() []classifier.Rejection {
	var rejected []classifier.Rejection
	for _, e := range c.staged {
		if len(phonetic.Codes(e.phoneme)) == 0 {
			rejected = append(rejected, classifier.Rejection{
				CommandID: e.id,
				Phoneme:   e.phoneme,
				Reason:    "no phonetic content",
			})
			continue
		}
		c.active = append(c.active, e)
		c.texts = append(c.texts, e.phoneme)
	}
	c.staged = nil
	return rejected
}

// Close releases the VAD session. The transcriber is owned by the caller.
func (c *Classifier) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.sess.Close()
}

var _ classifier.Classifier = (*Classifier)(nil)
