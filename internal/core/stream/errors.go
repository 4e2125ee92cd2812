package stream

import (
	"errors"
	"fmt"
)

// ErrEmptyCommand is returned when Run is called with no command text.
var ErrEmptyCommand = errors.New("command must not be empty")

// ToolNotFoundError means the claude executable could not be spawned
// because it is not installed or not on PATH. Surfaced verbatim so the
// user can act on it, as opposed to a generic I/O failure.
type ToolNotFoundError struct {
	Binary string
	Err    error
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("%s executable not found: install it or set claude_binary in config: %v", e.Binary, e.Err)
}

func (e *ToolNotFoundError) Unwrap() error {
	return e.Err
}

// ProcessExitError means the claude process exited non-zero without
// producing any output. Non-zero exits that did produce output are not
// errors: the answer matters more than the exit code.
type ProcessExitError struct {
	Code   int
	Stderr string
}

func (e *ProcessExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("claude exited with code %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("claude exited with code %d and produced no output", e.Code)
}

// SessionConflictError means the external session id was already in use
// and the single automatic retry also conflicted.
type SessionConflictError struct {
	ExternalSessionID string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("session id %q already in use and retry conflicted again", e.ExternalSessionID)
}
