package github

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// GitRunner runs git subcommands in a working directory and returns the
// combined output.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// execGit runs the git binary.
type execGit struct{}

func (execGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	// Never block on a credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// GitError reports a failed git command. Output has credentials redacted.
type GitError struct {
	Op     string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed: %v", e.Op, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// settingsExclude keeps the agent's installed permission settings out of
// status checks and commits.
const settingsExclude = ":(exclude).claude/settings.local.json"
