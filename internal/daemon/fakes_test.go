package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/alm/internal/actions"
	"github.com/alekspetrov/alm/internal/adapters/github"
	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/executor"
	"github.com/alekspetrov/alm/internal/history"
	"github.com/alekspetrov/alm/internal/safety"
	"github.com/alekspetrov/alm/internal/testutil"
)

var self = jira.Identity{AccountID: testutil.FakeAccountID, DisplayName: "alm"}

// memTracker is an in-memory Jira project. Comments are kept newest first.
type memTracker struct {
	mu       sync.Mutex
	issues   []*jira.Issue
	comments map[string][]jira.Comment
	labelOps []string
	links    []string
	addErr     error
	commentErr error
	listErr    error
	nextID   int
}

func newMemTracker(issues ...*jira.Issue) *memTracker {
	return &memTracker{issues: issues, comments: map[string][]jira.Comment{}}
}

func (m *memTracker) issue(key string) *jira.Issue {
	for _, i := range m.issues {
		if i.Key == key {
			return i
		}
	}
	return nil
}

func (m *memTracker) SearchIssues(_ context.Context, jql string, _ int) ([]*jira.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	processing := strings.Contains(jql, "labels = ")
	var out []*jira.Issue
	for _, i := range m.issues {
		if i.HasLabel("ai-processing") == processing {
			cp := *i
			cp.Fields.Labels = append([]string(nil), i.Fields.Labels...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTracker) AddLabel(_ context.Context, key, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.labelOps = append(m.labelOps, "+"+label)
	i := m.issue(key)
	if !i.HasLabel(label) {
		i.Fields.Labels = append(i.Fields.Labels, label)
	}
	return nil
}

func (m *memTracker) RemoveLabel(_ context.Context, key, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labelOps = append(m.labelOps, "-"+label)
	i := m.issue(key)
	kept := i.Fields.Labels[:0]
	for _, l := range i.Fields.Labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	i.Fields.Labels = kept
	return nil
}

func (m *memTracker) AddComment(_ context.Context, key, body string) (*jira.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commentErr != nil {
		return nil, m.commentErr
	}
	m.nextID++
	c := jira.Comment{ID: fmt.Sprint(m.nextID), Body: body, Author: jira.User{AccountID: self.AccountID}}
	m.comments[key] = append([]jira.Comment{c}, m.comments[key]...)
	return &c, nil
}

func (m *memTracker) GetComments(_ context.Context, key string) ([]jira.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jira.Comment(nil), m.comments[key]...), nil
}

func (m *memTracker) AddPRLink(_ context.Context, _, prURL, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, prURL)
	return nil
}

func (m *memTracker) seed(key string, c jira.Comment) {
	m.comments[key] = append(m.comments[key], c)
}

func (m *memTracker) labels(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.issue(key).Fields.Labels...)
}

// memRepo stands in for the GitHub client.
type memRepo struct {
	mu     sync.Mutex
	clones int
	pushed []string
	prs    []string
}

func (r *memRepo) Clone(context.Context, string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clones++
	return "/tmp/alm-daemon-test", nil
}

func (r *memRepo) Cleanup(string) {}
func (r *memRepo) CreateBranch(context.Context, string, string) error { return nil }
func (r *memRepo) HasChanges(context.Context, string) (bool, error) { return true, nil }

func (r *memRepo) CommitAndPush(_ context.Context, _, branch, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, branch)
	return nil
}

func (r *memRepo) CreatePullRequest(_ context.Context, branch, title, _ string) (*github.PullRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prs = append(r.prs, title)
	return &github.PullRequest{Number: 7, Title: title, HTMLURL: "https://github.com/acme/app/pull/7"}, nil
}

func (r *memRepo) AddPRComment(context.Context, int, string) error { return nil }

func (r *memRepo) GetPRInfo(context.Context, int) (*github.PRInfo, error) {
	return nil, errors.New("no pull requests")
}

// scriptedAgent answers by action name.
type scriptedAgent struct {
	mu       sync.Mutex
	replies  map[string]string
	err      error
	requests []executor.Request
}

func (a *scriptedAgent) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if a.err != nil {
		return nil, a.err
	}
	return &executor.Result{Content: a.replies[req.Action], CostUSD: 0.01}, nil
}

// gatedAgent blocks until release is closed and then fails if its context
// was cancelled in the meantime.
type gatedAgent struct {
	started chan struct{}
	release chan struct{}
}

func newGatedAgent() *gatedAgent {
	return &gatedAgent{started: make(chan struct{}), release: make(chan struct{})}
}

func (a *gatedAgent) Execute(ctx context.Context, _ executor.Request) (*executor.Result, error) {
	close(a.started)
	<-a.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &executor.Result{Content: "Found it.", CostUSD: 0.02}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	runs []history.Run
}

func (r *memRecorder) Record(_ context.Context, run history.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type harness struct {
	daemon   *Daemon
	tracker  *memTracker
	repo     *memRepo
	agent    *scriptedAgent
	recorder *memRecorder
}

func newHarness(t *testing.T, tracker *memTracker, router Router, cfg Config) *harness {
	t.Helper()
	gate, err := safety.NewGate(nil)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	if router == nil {
		router, err = actions.NewRegistry("ai-")
		if err != nil {
			t.Fatalf("NewRegistry: %v", err)
		}
	}
	h := &harness{
		tracker:  tracker,
		repo:     &memRepo{},
		agent:    &scriptedAgent{replies: map[string]string{}},
		recorder: &memRecorder{},
	}
	deps := &actions.Deps{
		Tracker: tracker,
		Repo:    h.repo,
		Agent:   h.agent,
		Prompts: executor.NewPrompts(""),
		Gate:    gate,
		Self:    self,
	}
	if cfg.ProjectKey == "" {
		cfg.ProjectKey = "PROJ"
	}
	h.daemon, err = New(tracker, router, deps, cfg, WithRecorder(h.recorder))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func issueAt(key, issueType string, created time.Time, labels ...string) *jira.Issue {
	return &jira.Issue{
		Key: key,
		Fields: jira.Fields{
			Summary:     "Checkout total is wrong",
			Description: "Totals double count discounts.",
			IssueType:   jira.IssueType{Name: issueType},
			Labels:      labels,
			Created:     jira.Timestamp{Time: created},
		},
	}
}
