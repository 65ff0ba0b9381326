package executor

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the agent does not finish within the timeout.
var ErrTimeout = errors.New("agent timed out")

// ExitError reports an agent run that exited non-zero or flagged its own
// result as an error.
type ExitError struct {
	Code   int
	Detail string
}

func (e *ExitError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("agent exited with code %d", e.Code)
	}
	return fmt.Sprintf("agent exited with code %d: %s", e.Code, e.Detail)
}

// MalformedOutputError reports stdout that is not the expected JSON result.
type MalformedOutputError struct {
	Output string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed agent output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// truncate keeps error details short enough to log.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
