package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alekspetrov/alm/internal/auth"
	"github.com/alekspetrov/alm/internal/testutil"
)

// staticTokens is a TokenSource whose token the test can rotate.
type staticTokens struct {
	mu          sync.Mutex
	endpoint    string
	token       string
	err         error
	invalidated int
	onInvalid   func() string
}

func (s *staticTokens) Token(ctx context.Context) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return auth.Session{}, s.err
	}
	return auth.Session{AccessToken: s.token, Endpoint: s.endpoint}, nil
}

func (s *staticTokens) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	if s.onInvalid != nil {
		s.token = s.onInvalid()
	}
}

func (s *staticTokens) rotate(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func fastRetry() RetryOptions {
	return RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tokens := &staticTokens{endpoint: server.URL + "/ex/jira/cloud-1", token: testutil.FakeAccessToken}
	return NewClient(tokens, WithRetryOptions(fastRetry())), tokens
}

func TestGetIssue(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ex/jira/cloud-1/rest/api/2/issue/PROJ-42" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testutil.FakeAccessToken {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.Contains(r.URL.Query().Get("fields"), "issuetype") {
			t.Errorf("fields = %q, want issuetype included", r.URL.Query().Get("fields"))
		}
		_, _ = w.Write([]byte(`{"id":"10001","key":"PROJ-42","fields":{"summary":"Login fails","description":"Steps...","issuetype":{"name":"Bug"},"labels":["ai-investigate"],"created":"2026-01-02T10:00:00.000+0000"}}`))
	})

	issue, err := client.GetIssue(context.Background(), "PROJ-42")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if issue.Type() != "Bug" {
		t.Errorf("Type() = %s, want Bug", issue.Type())
	}
	if !issue.HasLabel("ai-investigate") || issue.HasLabel("AI-INVESTIGATE") {
		t.Error("HasLabel should match exactly")
	}
	if issue.Fields.Created.Year() != 2026 {
		t.Errorf("Created = %v", issue.Fields.Created)
	}
}

func TestGetComments_NewestFirst(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Server answers oldest first; the client must reorder.
		_, _ = w.Write([]byte(`{"startAt":0,"maxResults":100,"total":3,"comments":[
			{"id":"1","body":"first","author":{"accountId":"a"},"created":"2026-01-01T10:00:00.000+0000"},
			{"id":"2","body":"second","author":{"accountId":"a"},"created":"2026-01-01T11:00:00.000+0000"},
			{"id":"3","body":"third","author":{"accountId":"a"},"created":"2026-01-01T09:00:00.000+0100"}
		]}`))
	})

	comments, err := client.GetComments(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatalf("GetComments failed: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("got %d comments, want 3", len(comments))
	}
	for i := 1; i < len(comments); i++ {
		if comments[i].Created.After(comments[i-1].Created.Time) {
			t.Errorf("comments not newest-first at %d: %v after %v", i, comments[i].Created, comments[i-1].Created)
		}
	}
	if comments[0].ID != "2" || comments[2].ID != "3" {
		t.Errorf("order = %s,%s,%s; want 2,1,3", comments[0].ID, comments[1].ID, comments[2].ID)
	}
}

func TestGetComments_Paginates(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("startAt") == "0" {
			_, _ = w.Write([]byte(`{"startAt":0,"total":2,"comments":[{"id":"1","created":"2026-01-01T10:00:00.000+0000"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"startAt":1,"total":2,"comments":[{"id":"2","created":"2026-01-01T12:00:00.000+0000"}]}`))
	})

	comments, err := client.GetComments(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 || len(comments) != 2 || comments[0].ID != "2" {
		t.Errorf("calls=%d comments=%+v", calls.Load(), comments)
	}
}

func TestClient_RebuildsOnTokenChange(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"accountId":"svc","displayName":"alm"}`))
	})

	ctx := context.Background()
	if _, err := client.GetIssue(ctx, "A-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetIssue(ctx, "A-1"); err != nil {
		t.Fatal(err)
	}
	tokens.rotate("rotated-token")
	if _, err := client.GetIssue(ctx, "A-1"); err != nil {
		t.Fatal(err)
	}

	if client.rebuilds != 2 {
		t.Errorf("rebuilds = %d, want 2", client.rebuilds)
	}
	if seen[2] != "Bearer rotated-token" {
		t.Errorf("third request used %q, want rotated token", seen[2])
	}
}

func TestClient_ReauthOn401(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	tokens.onInvalid = func() string { return "fresh" }

	if err := client.AddLabel(context.Background(), "A-1", "ai-processing"); err != nil {
		t.Fatalf("AddLabel failed: %v", err)
	}
	if tokens.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", tokens.invalidated)
	}
}

func TestClient_PersistentUnauthorized(t *testing.T) {
	var calls atomic.Int32
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.RemoveLabel(context.Background(), "A-1", "ai-fix")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if calls.Load() != 2 || tokens.invalidated != 1 {
		t.Errorf("calls=%d invalidated=%d, want 2 and 1", calls.Load(), tokens.invalidated)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"key":"A-1"}`))
	})

	if _, err := client.GetIssue(context.Background(), "A-1"); err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestAddComment_NotReplayedAfterGatewayTimeout(t *testing.T) {
	var mu sync.Mutex
	var stored []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		stored = append(stored, body["body"])
		n := len(stored)
		mu.Unlock()
		// The comment is saved, but the proxy gives up on the first reply.
		if n == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		_, _ = w.Write([]byte(`{"id":"c2","body":"ok"}`))
	})

	_, err := client.AddComment(context.Background(), "A-1", "INVESTIGATION RESULTS")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("AddComment() error = %v, want 504", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(stored) != 1 {
		t.Errorf("comments stored = %d, want 1", len(stored))
	}
}

func TestIsRetryableWrite(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"gateway timeout", &APIError{StatusCode: http.StatusGatewayTimeout}, false},
		{"server error", &APIError{StatusCode: http.StatusInternalServerError}, false},
		{"reauth", &reauthError{err: &APIError{StatusCode: http.StatusUnauthorized}}, true},
		{"auth", &auth.AuthError{Op: "exchange", Err: errors.New("denied")}, false},
		{"dial refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"read reset", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableWrite(tt.err); got != tt.want {
				t.Errorf("isRetryableWrite(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClient_AuthErrorNotRetried(t *testing.T) {
	tokens := &staticTokens{err: &auth.AuthError{Op: "exchange", Err: errors.New("denied")}}
	client := NewClient(tokens, WithRetryOptions(fastRetry()))

	_, err := client.GetIssue(context.Background(), "A-1")
	if !auth.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestAddComment(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/ex/jira/cloud-1/rest/api/2/issue/PROJ-42/comment" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body["body"] != "Test comment" {
			t.Errorf("body = %v", body)
		}
		_ = json.NewEncoder(w).Encode(Comment{ID: "10001", Body: "Test comment"})
	})

	c, err := client.AddComment(context.Background(), "PROJ-42", "Test comment")
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if c.ID != "10001" {
		t.Errorf("ID = %s", c.ID)
	}
}

func TestUpdateLabels(t *testing.T) {
	tests := []struct {
		name string
		call func(*Client) error
		op   string
	}{
		{"add", func(c *Client) error { return c.AddLabel(context.Background(), "PROJ-1", "ai-processing") }, "add"},
		{"remove", func(c *Client) error { return c.RemoveLabel(context.Background(), "PROJ-1", "ai-processing") }, "remove"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut {
					t.Errorf("expected PUT, got %s", r.Method)
				}
				var body struct {
					Update struct {
						Labels []map[string]string `json:"labels"`
					} `json:"update"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Fatal(err)
				}
				if len(body.Update.Labels) != 1 || body.Update.Labels[0][tt.op] != "ai-processing" {
					t.Errorf("labels update = %v", body.Update.Labels)
				}
				w.WriteHeader(http.StatusNoContent)
			})
			if err := tt.call(client); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestMyself_Cached(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/ex/jira/cloud-1/rest/api/2/myself" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"accountId":"` + testutil.FakeAccountID + `","displayName":"ALM Bot"}`))
	})

	for i := 0; i < 3; i++ {
		id, err := client.Myself(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if id.AccountID != testutil.FakeAccountID {
			t.Errorf("AccountID = %s", id.AccountID)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSearchIssues_Pages(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ex/jira/cloud-1/rest/api/2/search/jql" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("jql") == "" {
			t.Error("missing jql")
		}
		if r.URL.Query().Get("nextPageToken") == "" {
			_, _ = w.Write([]byte(`{"issues":[{"key":"A-1"}],"nextPageToken":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"issues":[{"key":"A-2"}],"isLast":true}`))
	})

	issues, err := client.SearchIssues(context.Background(), `labels in ("ai-fix")`, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 2 || issues[1].Key != "A-2" {
		t.Errorf("issues = %+v", issues)
	}
}

func TestCandidateJQL(t *testing.T) {
	got := CandidateJQL("PROJ", []string{"ai-fix", "ai-investigate"}, "ai-processing")
	want := `project = "PROJ" AND labels in ("ai-fix", "ai-investigate") AND labels != "ai-processing" ORDER BY created ASC`
	if got != want {
		t.Errorf("CandidateJQL() =\n%s\nwant\n%s", got, want)
	}

	if got := ProcessingJQL("PROJ", "ai-processing"); got != `project = "PROJ" AND labels = "ai-processing"` {
		t.Errorf("ProcessingJQL() = %s", got)
	}
	if got := quoteJQL(`a"b`); got != `"a\"b"` {
		t.Errorf("quoteJQL = %s", got)
	}
}
