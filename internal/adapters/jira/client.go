package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alekspetrov/alm/internal/auth"
	"github.com/alekspetrov/alm/internal/logging"
)

// apiPath is the REST root. v2 keeps description and comment bodies as
// plain strings, which the marker-prefix lookups rely on.
const apiPath = "/rest/api/2"

// issueFields limits issue payloads to what dispatch needs.
const issueFields = "summary,description,issuetype,status,labels,project,created"

// TokenSource supplies the current session. *auth.Manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (auth.Session, error)
	Invalidate()
}

// apiClient is bound to exactly one token. It is never mutated; a new
// token produces a new apiClient.
type apiClient struct {
	token      string
	endpoint   string
	httpClient *http.Client
}

// Client is the tracker gateway for one Jira Cloud site.
type Client struct {
	tokens     TokenSource
	httpClient *http.Client
	retry      RetryOptions
	log        *slog.Logger

	mu       sync.Mutex
	api      *apiClient
	rebuilds int

	identityMu sync.Mutex
	identity   *Identity
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryOptions overrides transient-failure retry behavior.
func WithRetryOptions(opts RetryOptions) ClientOption {
	return func(c *Client) {
		c.retry = opts
	}
}

// NewClient creates a Jira client that authenticates through tokens.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      DefaultRetryOptions(),
		log:        logging.WithComponent("jira"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// current returns the apiClient for the live session, rebuilding it when the
// session's token or endpoint differs from the one it was built with.
func (c *Client) current(ctx context.Context) (*apiClient, error) {
	s, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil || c.api.token != s.AccessToken || c.api.endpoint != s.Endpoint {
		if c.api != nil {
			c.log.Debug("Rebuilding API client for refreshed session")
		}
		c.api = &apiClient{
			token:      s.AccessToken,
			endpoint:   strings.TrimSuffix(s.Endpoint, "/"),
			httpClient: c.httpClient,
		}
		c.rebuilds++
	}
	return c.api, nil
}

// doRequest performs an authenticated request with transient retry. A 401
// drops the session and is retried once with a freshly exchanged token.
// POSTs are not replayed after the server may have stored them.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	retry := WithRetry[struct{}]
	if method == http.MethodPost {
		retry = WithWriteRetry[struct{}]
	}
	reauthed := false
	_, err := retry(ctx, func() (struct{}, error) {
		api, err := c.current(ctx)
		if err != nil {
			return struct{}{}, err
		}
		err = api.do(ctx, method, path, body, result)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && !reauthed {
			reauthed = true
			c.tokens.Invalidate()
			return struct{}{}, &reauthError{err: err}
		}
		return struct{}{}, err
	}, c.retry)
	return err
}

func (a *apiClient) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+apiPath+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// GetIssue fetches an issue by key (e.g., "PROJ-42")
func (c *Client) GetIssue(ctx context.Context, issueKey string) (*Issue, error) {
	path := fmt.Sprintf("/issue/%s?fields=%s", url.PathEscape(issueKey), issueFields)
	var issue Issue
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// SearchIssues returns up to maxResults issues matching jql.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]*Issue, error) {
	if maxResults <= 0 {
		maxResults = 50
	}

	var issues []*Issue
	pageToken := ""
	for len(issues) < maxResults {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("fields", issueFields)
		q.Set("maxResults", strconv.Itoa(maxResults-len(issues)))
		if pageToken != "" {
			q.Set("nextPageToken", pageToken)
		}

		var page searchPage
		if err := c.doRequest(ctx, http.MethodGet, "/search/jql?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		issues = append(issues, page.Issues...)
		if page.IsLast || page.NextPageToken == "" || len(page.Issues) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return issues, nil
}

// GetComments returns every comment on the issue, newest first. The order is
// imposed here and does not depend on how the server sorts.
func (c *Client) GetComments(ctx context.Context, issueKey string) ([]Comment, error) {
	var all []Comment
	startAt := 0
	for {
		path := fmt.Sprintf("/issue/%s/comment?startAt=%d&maxResults=100&orderBy=-created", url.PathEscape(issueKey), startAt)
		var page commentPage
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Comments...)
		startAt += len(page.Comments)
		if len(page.Comments) == 0 || startAt >= page.Total {
			break
		}
	}

	SortNewestFirst(all)
	return all, nil
}

// SortNewestFirst orders comments by creation time, newest first. Ties keep
// their relative order.
func SortNewestFirst(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].Created.After(comments[j].Created.Time)
	})
}

// AddComment adds a comment to an issue
func (c *Client) AddComment(ctx context.Context, issueKey, body string) (*Comment, error) {
	path := fmt.Sprintf("/issue/%s/comment", url.PathEscape(issueKey))
	var comment Comment
	if err := c.doRequest(ctx, http.MethodPost, path, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// AddLabel adds a label to an issue. Jira keeps labels as a set, so adding a
// present label is a no-op.
func (c *Client) AddLabel(ctx context.Context, issueKey, label string) error {
	return c.updateLabels(ctx, issueKey, "add", label)
}

// RemoveLabel removes a label from an issue
func (c *Client) RemoveLabel(ctx context.Context, issueKey, label string) error {
	return c.updateLabels(ctx, issueKey, "remove", label)
}

func (c *Client) updateLabels(ctx context.Context, issueKey, op, label string) error {
	path := fmt.Sprintf("/issue/%s", url.PathEscape(issueKey))
	reqBody := map[string]interface{}{
		"update": map[string]interface{}{
			"labels": []map[string]string{
				{op: label},
			},
		},
	}
	return c.doRequest(ctx, http.MethodPut, path, reqBody, nil)
}

// Myself returns the service account identity, fetched once per Client.
func (c *Client) Myself(ctx context.Context) (Identity, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.identity != nil {
		return *c.identity, nil
	}

	var user User
	if err := c.doRequest(ctx, http.MethodGet, "/myself", nil, &user); err != nil {
		return Identity{}, err
	}
	if user.AccountID == "" {
		return Identity{}, errors.New("jira /myself returned no accountId")
	}
	c.identity = &Identity{AccountID: user.AccountID, DisplayName: user.DisplayName}
	return *c.identity, nil
}

// AddRemoteLink adds a remote link to an issue (for PR linking)
func (c *Client) AddRemoteLink(ctx context.Context, issueKey string, link *RemoteLink) error {
	path := fmt.Sprintf("/issue/%s/remotelink", url.PathEscape(issueKey))
	return c.doRequest(ctx, http.MethodPost, path, link, nil)
}

// AddPRLink adds a GitHub PR link to an issue
func (c *Client) AddPRLink(ctx context.Context, issueKey, prURL, prTitle string) error {
	link := &RemoteLink{
		GlobalID: "github-pr-" + prURL,
		Object: RemoteLinkObject{
			URL:     prURL,
			Title:   prTitle,
			Summary: "Pull request opened by alm",
			Icon: &RemoteLinkIcon{
				URL16x16: "https://github.githubassets.com/favicon.ico",
				Title:    "GitHub",
			},
		},
	}
	return c.AddRemoteLink(ctx, issueKey, link)
}
