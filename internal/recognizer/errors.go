package recognizer

import "errors"

var (
	// ErrAlreadyRunning is returned by Setup when the controller already owns
	// a session, and by Start when the session's workers are running.
	ErrAlreadyRunning = errors.New("recognizer: session already exists")

	// ErrNotRunning is returned by control calls issued without a session, or
	// while the session is being stopped.
	ErrNotRunning = errors.New("recognizer: no active session")

	// ErrResourceExhausted is returned by Setup when a session resource could
	// not be created. Everything allocated before the failure is released.
	ErrResourceExhausted = errors.New("recognizer: resource exhausted")

	// ErrTaskCreationFailed is returned by Start when a worker could not be
	// launched. The session is torn down.
	ErrTaskCreationFailed = errors.New("recognizer: worker creation failed")

	// ErrInvalidMode is returned for mode values outside Off, WakeWord and
	// Command.
	ErrInvalidMode = errors.New("recognizer: invalid mode")

	// ErrChunkSizeMismatch is passed to the fatal handler when the classifier
	// frame size differs from the front end's fetch chunk size.
	ErrChunkSizeMismatch = errors.New("recognizer: classifier chunk size does not match front-end fetch chunk size")
)
