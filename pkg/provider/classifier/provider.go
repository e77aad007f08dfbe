// Package classifier defines the Classifier interface for command
// classification engines.
//
// A classifier consumes processed frames from the audio front end while the
// recognizer is in command mode. Each Detect call advances its internal state
// and reports whether it is still listening, has given up, or has recognised
// one of the installed commands. Results ranks the candidates of the most
// recent detection, best first.
//
// Commands are installed in three steps: ClearCommands, one AddCommand per
// entry, then CommitCommands. Entries the engine cannot use are reported by
// CommitCommands instead of failing the whole installation.
//
// A Classifier is driven from a single goroutine and need not be safe for
// concurrent use, except Close which may be called after that goroutine
// exited.
package classifier

import (
	"errors"
	"time"
)

// ErrNoModel is returned by Factory.New when no command model is available.
// The recognizer then runs without command classification.
var ErrNoModel = errors.New("classifier: no model available")

// State is the outcome of a single Detect call.
type State int

const (
	// Detecting means the classifier needs more audio.
	Detecting State = iota

	// Timeout means the listening window elapsed without a recognised
	// command.
	Timeout

	// Detected means a command was recognised. Results holds the candidates.
	Detected
)

// String returns a lower-case label suitable for logs and metric attributes.
func (s State) String() string {
	switch s {
	case Detecting:
		return "detecting"
	case Timeout:
		return "timeout"
	case Detected:
		return "detected"
	}
	return "unknown"
}

// Candidate is one ranked recognition hypothesis.
type Candidate struct {
	// CommandID is the caller-assigned command identifier.
	CommandID int

	// PhraseID identifies the matched phrase variant within the engine.
	PhraseID int

	// Probability is the engine's confidence in [0, 1].
	Probability float64
}

// Rejection describes a command that CommitCommands could not install.
type Rejection struct {
	CommandID int
	Phoneme   string
	Reason    string
}

// Config holds the parameters used to create a [Classifier].
type Config struct {
	// Model names the command model. An empty model makes factories that
	// require one return ErrNoModel.
	Model string

	// MaxDuration bounds a single listening window. Detect reports Timeout
	// once it elapses. Zero selects the engine default.
	MaxDuration time.Duration

	// SampleRate of the frames passed to Detect. Defaults to 16000.
	SampleRate int

	// Options carries engine-specific settings.
	Options map[string]any
}

// Classifier is the command classification engine consumed by the
// recognizer.
type Classifier interface {
	// Detect consumes one frame of ChunkSize samples.
	Detect(frame []int16) State

	// Results returns the ranked candidates of the last Detected outcome.
	// Index 0 is the best match.
	Results() []Candidate

	// ChunkSize is the number of samples Detect expects per call.
	ChunkSize() int

	// ClearCommands removes every installed command.
	ClearCommands()

	// AddCommand stages a command for installation. It returns an error only
	// for malformed arguments; engine-level rejections surface from
	// CommitCommands.
	AddCommand(id int, phoneme string) error

	// CommitCommands activates the staged commands and reports the entries
	// that could not be installed.
	CommitCommands() []Rejection

	// Close releases all engine resources. Calling Close more than once is
	// safe.
	Close() error
}

// Factory creates Classifier instances.
type Factory interface {
	New(cfg Config) (Classifier, error)
}

// FactoryFunc adapts an ordinary function to the [Factory] interface.
type FactoryFunc func(cfg Config) (Classifier, error)

// New calls f(cfg).
func (f FactoryFunc) New(cfg Config) (Classifier, error) { return f(cfg) }
