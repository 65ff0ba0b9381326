// Package github checks out repositories with git and manages pull requests
// through the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/alekspetrov/alm/internal/logging"
)

// tempDirPrefix names checkout directories under os.TempDir.
const tempDirPrefix = "alm-"

// Client is the repository host client used by actions.
type Client struct {
	api    *gh.Client
	config *Config
	owner  string
	repo   string
	git    GitRunner
	retry  RetryOptions
	log    *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithGitRunner replaces the git binary, mainly for tests.
func WithGitRunner(g GitRunner) Option {
	return func(c *Client) error {
		c.git = g
		return nil
	}
}

// WithRetryOptions overrides transient-failure retry behavior.
func WithRetryOptions(opts RetryOptions) Option {
	return func(c *Client) error {
		c.retry = opts
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the REST API.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.api = gh.NewClient(hc).WithAuthToken(c.config.Token)
		return c.applyBaseURL()
	}
}

// NewClient creates a client for cfg.Repo.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("github config is required")
	}
	owner, name, err := ParseRepo(cfg.Repo)
	if err != nil {
		return nil, err
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.CloneHost == "" {
		cfg.CloneHost = "github.com"
	}

	c := &Client{
		api:    gh.NewClient(nil).WithAuthToken(cfg.Token),
		config: cfg,
		owner:  owner,
		repo:   name,
		git:    execGit{},
		retry:  DefaultRetryOptions(),
		log:    logging.WithComponent("github"),
	}
	if err := c.applyBaseURL(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) applyBaseURL() error {
	if c.config.BaseURL == "" {
		return nil
	}
	base := c.config.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid github base_url: %w", err)
	}
	c.api.BaseURL = u
	return nil
}

// FullName returns "owner/name".
func (c *Client) FullName() string {
	return c.owner + "/" + c.repo
}

// cloneURL embeds the token for HTTPS auth. It must never be logged.
func (c *Client) cloneURL() string {
	u := url.URL{
		Scheme: "https",
		Host:   c.config.CloneHost,
		Path:   "/" + c.FullName() + ".git",
	}
	if c.config.Token != "" {
		u.User = url.UserPassword("x-access-token", c.config.Token)
	}
	return u.String()
}

// redact strips the token from git output.
func (c *Client) redact(s string) string {
	if c.config.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.config.Token, "***")
}

func (c *Client) runGit(ctx context.Context, dir, op string, args ...string) (string, error) {
	out, err := c.git.Run(ctx, dir, args...)
	if err != nil {
		return "", &GitError{Op: op, Output: c.redact(out), Err: err}
	}
	return out, nil
}

// Clone makes a shallow checkout of branch (the base branch when empty)
// into a new temporary directory and returns its path.
func (c *Client) Clone(ctx context.Context, branch string) (string, error) {
	if branch == "" {
		branch = c.config.BaseBranch
	}
	dir, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}

	depth := c.config.CloneDepth
	if depth <= 0 {
		depth = 1
	}
	c.log.Info("Cloning repository",
		slog.String("repo", c.FullName()),
		slog.String("branch", branch),
		slog.String("dir", dir),
	)
	args := []string{"clone", "--depth", strconv.Itoa(depth), "--branch", branch, "--single-branch", c.cloneURL(), dir}
	if _, err := c.runGit(ctx, "", "clone", args...); err != nil {
		c.Cleanup(dir)
		return "", err
	}
	return dir, nil
}

// Cleanup removes a checkout. Failures are logged, not returned.
func (c *Client) Cleanup(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn("Failed to remove work directory", slog.String("dir", dir), slog.Any("error", err))
	}
}

// CreateBranch creates and checks out branch in dir.
func (c *Client) CreateBranch(ctx context.Context, dir, branch string) error {
	_, err := c.runGit(ctx, dir, "checkout", "checkout", "-b", branch)
	return err
}

// HasChanges reports whether the checkout has uncommitted changes, not
// counting the installed agent settings.
func (c *Client) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := c.runGit(ctx, dir, "status", "status", "--porcelain", "--", ".", settingsExclude)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAndPush stages everything except the agent settings, commits with
// message and pushes branch to origin.
func (c *Client) CommitAndPush(ctx context.Context, dir, branch, message string) error {
	if _, err := c.runGit(ctx, dir, "add", "add", "-A", "--", ".", settingsExclude); err != nil {
		return err
	}
	commit := []string{
		"-c", "user.name=" + c.config.AuthorName,
		"-c", "user.email=" + c.config.AuthorEmail,
		"commit", "-m", message,
	}
	if _, err := c.runGit(ctx, dir, "commit", commit...); err != nil {
		return err
	}
	c.log.Info("Pushing branch", slog.String("branch", branch))
	_, err := c.runGit(ctx, dir, "push", "push", "-u", "origin", branch)
	return err
}

// CreatePullRequest opens a pull request from branch into the base branch.
// If one is already open for branch, that one is returned.
func (c *Client) CreatePullRequest(ctx context.Context, branch, title, body string) (*PullRequest, error) {
	pr, err := WithRetry(ctx, func() (*gh.PullRequest, error) {
		pr, _, err := c.api.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
			Title: gh.String(title),
			Head:  gh.String(branch),
			Base:  gh.String(c.config.BaseBranch),
			Body:  gh.String(body),
		})
		return pr, err
	}, c.retry)
	if err != nil {
		if isUnprocessable(err) {
			if existing, findErr := c.FindPRByBranch(ctx, branch); findErr == nil && existing != nil {
				c.log.Info("Pull request already open", slog.Int("number", existing.Number))
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	c.log.Info("Pull request created", slog.Int("number", pr.GetNumber()))
	return toPullRequest(pr), nil
}

// FindPRByBranch returns the open pull request whose head is branch, or nil.
func (c *Client) FindPRByBranch(ctx context.Context, branch string) (*PullRequest, error) {
	prs, err := WithRetry(ctx, func() ([]*gh.PullRequest, error) {
		prs, _, err := c.api.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
			State: "open",
			Head:  c.owner + ":" + branch,
		})
		return prs, err
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	for _, pr := range prs {
		if pr.GetHead().GetRef() == branch {
			return toPullRequest(pr), nil
		}
	}
	return nil, nil
}

// AddPRComment posts a conversation comment on pull request number.
func (c *Client) AddPRComment(ctx context.Context, number int, body string) error {
	_, err := WithWriteRetry(ctx, func() (*gh.IssueComment, error) {
		comment, _, err := c.api.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{
			Body: gh.String(body),
		})
		return comment, err
	}, c.retry)
	if err != nil {
		return fmt.Errorf("failed to comment on PR #%d: %w", number, err)
	}
	return nil
}

// GetPRInfo fetches a pull request with its changed file names.
func (c *Client) GetPRInfo(ctx context.Context, number int) (*PRInfo, error) {
	pr, err := WithRetry(ctx, func() (*gh.PullRequest, error) {
		pr, _, err := c.api.PullRequests.Get(ctx, c.owner, c.repo, number)
		return pr, err
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR #%d: %w", number, err)
	}

	info := &PRInfo{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		HTMLURL:    pr.GetHTMLURL(),
	}

	opts := &gh.ListOptions{PerPage: 100}
	for {
		var resp *gh.Response
		files, err := WithRetry(ctx, func() ([]*gh.CommitFile, error) {
			files, r, err := c.api.PullRequests.ListFiles(ctx, c.owner, c.repo, number, opts)
			resp = r
			return files, err
		}, c.retry)
		if err != nil {
			return nil, fmt.Errorf("failed to list files for PR #%d: %w", number, err)
		}
		for _, f := range files {
			info.ChangedFiles = append(info.ChangedFiles, f.GetFilename())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return info, nil
}

func toPullRequest(pr *gh.PullRequest) *PullRequest {
	return &PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		HTMLURL: pr.GetHTMLURL(),
	}
}

func isUnprocessable(err error) bool {
	var respErr *gh.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil &&
		respErr.Response.StatusCode == http.StatusUnprocessableEntity
}
