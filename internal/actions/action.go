// Package actions routes tracker labels to the handlers that act on them.
package actions

import (
	"context"
	"log/slog"

	"github.com/alekspetrov/alm/internal/adapters/github"
	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/executor"
	"github.com/alekspetrov/alm/internal/safety"
)

// Descriptor is the static description of one action.
type Descriptor struct {
	// Name is the label without its prefix, e.g. "investigate"
	Name string
	// Label is the full tracker label, e.g. "ai-investigate"
	Label string
	// AllowedTypes restricts the issue types the action runs on. Empty
	// means any type.
	AllowedTypes []string
	// ConsumesContext marks actions that read earlier results.
	ConsumesContext bool
	// MutatesRepo marks actions that push a branch and open a pull request.
	MutatesRepo bool
	// Profile is the agent permission profile.
	Profile executor.Profile
	// Prompt names the prompt template.
	Prompt string
	// ResultHeader heads the comment that carries the result.
	ResultHeader string
}

// Allows reports whether the action may run on issueType.
func (d Descriptor) Allows(issueType string) bool {
	if len(d.AllowedTypes) == 0 {
		return true
	}
	for _, t := range d.AllowedTypes {
		if t == issueType {
			return true
		}
	}
	return false
}

// Action performs one labeled task end to end.
type Action interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, issue *jira.Issue, deps *Deps) (Outcome, error)
}

// Status is the terminal state of one dispatch.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusBlocked   Status = "blocked"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Outcome summarizes a finished action for the daemon's logs.
type Outcome struct {
	Status  Status
	Summary string
	// Reason is the gate's reason tag for blocked outcomes.
	Reason  string
	CostUSD float64
	PRURL   string
}

// Tracker is the part of the Jira gateway actions use.
type Tracker interface {
	GetComments(ctx context.Context, issueKey string) ([]jira.Comment, error)
	AddComment(ctx context.Context, issueKey, body string) (*jira.Comment, error)
	RemoveLabel(ctx context.Context, issueKey, label string) error
	AddPRLink(ctx context.Context, issueKey, prURL, prTitle string) error
}

// Repository is the repository host client.
type Repository interface {
	Clone(ctx context.Context, branch string) (string, error)
	Cleanup(dir string)
	CreateBranch(ctx context.Context, dir, branch string) error
	HasChanges(ctx context.Context, dir string) (bool, error)
	CommitAndPush(ctx context.Context, dir, branch, message string) error
	CreatePullRequest(ctx context.Context, branch, title, body string) (*github.PullRequest, error)
	AddPRComment(ctx context.Context, number int, body string) error
	GetPRInfo(ctx context.Context, number int) (*github.PRInfo, error)
}

// Agent runs a prompt against a checkout.
type Agent interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// PromptRenderer renders the prompt for an action.
type PromptRenderer interface {
	Render(action string, data executor.PromptData) (string, error)
}

// Validator screens text before it leaves the process.
type Validator interface {
	Validate(text string) safety.Verdict
}

// Deps is built once at startup and passed to every Execute call. Self is
// the service account, resolved before the first cycle.
type Deps struct {
	Tracker Tracker
	Repo    Repository
	Agent   Agent
	Prompts PromptRenderer
	Gate    Validator
	Self    jira.Identity
	Log     *slog.Logger
}
