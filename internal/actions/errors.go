package actions

import (
	"errors"
	"fmt"

	"github.com/alekspetrov/alm/internal/adapters/github"
	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/auth"
	"github.com/alekspetrov/alm/internal/executor"
)

// Error kinds reported in failure comments. They say what failed without
// exposing paths, output or credentials.
const (
	KindAgentTimeout = "agent_timeout"
	KindAgentFailed  = "agent_failed"
	KindAgentOutput  = "agent_output"
	KindRepository   = "repository"
	KindTracker      = "tracker"
	KindAuth         = "auth"
	KindInternal     = "internal"
)

// HandlerError is a failed step inside an action.
type HandlerError struct {
	Kind string
	Op   string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// fail wraps err as a HandlerError, deriving the kind from err when it is
// more specific than fallback.
func fail(fallback, op string, err error) error {
	if err == nil {
		return nil
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return err
	}
	kind := classify(err)
	if kind == KindInternal {
		kind = fallback
	}
	return &HandlerError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the failure kind for err.
func KindOf(err error) string {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Kind
	}
	return classify(err)
}

func classify(err error) string {
	var (
		exitErr   *executor.ExitError
		malformed *executor.MalformedOutputError
		gitErr    *github.GitError
		apiErr    *jira.APIError
	)
	switch {
	case auth.IsAuthError(err):
		return KindAuth
	case errors.Is(err, executor.ErrTimeout):
		return KindAgentTimeout
	case errors.As(err, &exitErr):
		return KindAgentFailed
	case errors.As(err, &malformed):
		return KindAgentOutput
	case errors.As(err, &gitErr):
		return KindRepository
	case errors.As(err, &apiErr):
		return KindTracker
	}
	return KindInternal
}
