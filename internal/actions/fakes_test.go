package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alekspetrov/alm/internal/adapters/github"
	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/executor"
	"github.com/alekspetrov/alm/internal/safety"
	"github.com/alekspetrov/alm/internal/testutil"
)

var self = jira.Identity{AccountID: testutil.FakeAccountID, DisplayName: "alm"}

// fakeTracker records comments and label removals. Comments holds the
// issue's existing comments, newest first.
type fakeTracker struct {
	mu         sync.Mutex
	comments   []jira.Comment
	posted     []string
	removed    []string
	links      []string
	commentErr error
	linkErr    error
}

func (f *fakeTracker) GetComments(_ context.Context, _ string) ([]jira.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	return append([]jira.Comment(nil), f.comments...), nil
}

func (f *fakeTracker) AddComment(_ context.Context, _ string, body string) (*jira.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, body)
	return &jira.Comment{ID: fmt.Sprint(len(f.posted)), Body: body}, nil
}

func (f *fakeTracker) RemoveLabel(_ context.Context, _ string, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, label)
	return nil
}

func (f *fakeTracker) AddPRLink(_ context.Context, _ string, prURL, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, prURL)
	return f.linkErr
}

// fakeRepo records every call in order.
type fakeRepo struct {
	calls      []string
	changed    bool
	cloneErr   error
	pushErr    error
	prInfo     *github.PRInfo
	prComments []string
	prBody     string
}

func (f *fakeRepo) Clone(_ context.Context, branch string) (string, error) {
	f.calls = append(f.calls, "clone "+branch)
	if f.cloneErr != nil {
		return "", f.cloneErr
	}
	return "/tmp/alm-test", nil
}

func (f *fakeRepo) Cleanup(dir string) { f.calls = append(f.calls, "cleanup") }

func (f *fakeRepo) CreateBranch(_ context.Context, _, branch string) error {
	f.calls = append(f.calls, "branch "+branch)
	return nil
}

func (f *fakeRepo) HasChanges(_ context.Context, _ string) (bool, error) {
	f.calls = append(f.calls, "status")
	return f.changed, nil
}

func (f *fakeRepo) CommitAndPush(_ context.Context, _, branch, message string) error {
	f.calls = append(f.calls, "push "+branch+" "+strings.SplitN(message, "\n", 2)[0])
	return f.pushErr
}

func (f *fakeRepo) CreatePullRequest(_ context.Context, branch, title, body string) (*github.PullRequest, error) {
	f.calls = append(f.calls, "pr "+title)
	f.prBody = body
	return &github.PullRequest{Number: 42, Title: title, HTMLURL: "https://github.com/acme/app/pull/42"}, nil
}

func (f *fakeRepo) AddPRComment(_ context.Context, number int, body string) error {
	f.calls = append(f.calls, fmt.Sprintf("pr-comment %d", number))
	f.prComments = append(f.prComments, body)
	return nil
}

func (f *fakeRepo) GetPRInfo(_ context.Context, number int) (*github.PRInfo, error) {
	f.calls = append(f.calls, fmt.Sprintf("pr-info %d", number))
	if f.prInfo == nil {
		return nil, errors.New("not found")
	}
	return f.prInfo, nil
}

// fakeAgent returns a canned result and keeps the requests it saw.
type fakeAgent struct {
	content  string
	cost     float64
	err      error
	requests []executor.Request
}

func (f *fakeAgent) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &executor.Result{Content: f.content, CostUSD: f.cost}, nil
}

func newDeps(t *testing.T, tracker *fakeTracker, repo *fakeRepo, agent *fakeAgent) *Deps {
	t.Helper()
	gate, err := safety.NewGate(nil)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return &Deps{
		Tracker: tracker,
		Repo:    repo,
		Agent:   agent,
		Prompts: executor.NewPrompts(""),
		Gate:    gate,
		Self:    self,
	}
}

func newIssue(key, issueType, label string) *jira.Issue {
	return &jira.Issue{
		Key: key,
		Fields: jira.Fields{
			Summary:     "Login button unresponsive",
			Description: "Clicking login does nothing on Safari.",
			IssueType:   jira.IssueType{Name: issueType},
			Labels:      []string{label},
		},
	}
}

func ownComment(id, body string) jira.Comment {
	return jira.Comment{ID: id, Body: body, Author: jira.User{AccountID: self.AccountID}}
}

func otherComment(id, body string) jira.Comment {
	return jira.Comment{ID: id, Body: body, Author: jira.User{AccountID: "someone-else"}}
}

func mustRoute(t *testing.T, label string) Action {
	t.Helper()
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	a, ok := r.Route(label)
	if !ok {
		t.Fatalf("no action for %q", label)
	}
	return a
}
