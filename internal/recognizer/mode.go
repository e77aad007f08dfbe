package recognizer

import (
	"fmt"
	"strings"
)

// Mode selects what the detect worker listens for.
type Mode int32

const (
	// ModeOff drains the front end without interpreting results.
	ModeOff Mode = iota

	// ModeWakeWord reports wake-phrase detections.
	ModeWakeWord

	// ModeCommand runs the command classifier.
	ModeCommand
)

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= ModeOff && m <= ModeCommand
}

// String returns the configuration name of m.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeWakeWord:
		return "wake_word"
	case ModeCommand:
		return "command"
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

// ParseMode converts a configuration name into a Mode. Matching is
// case-insensitive and accepts "wakeword" as well as "wake_word".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff, nil
	case "wake_word", "wakeword", "wake":
		return ModeWakeWord, nil
	case "command":
		return ModeCommand, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// MarshalText implements [encoding.TextMarshaler].
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int32(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
