package jira

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Config holds Jira connection settings. Credentials live in auth.Config.
type Config struct {
	ProjectKey      string `yaml:"project_key"`
	ProcessingLabel string `yaml:"processing_label"`
	MaxResults      int    `yaml:"max_results"`
}

// DefaultConfig returns default Jira configuration
func DefaultConfig() *Config {
	return &Config{
		ProcessingLabel: "ai-processing",
		MaxResults:      50,
	}
}

// timeLayout is the timestamp format Jira uses for created/updated.
const timeLayout = "2006-01-02T15:04:05.000-0700"

// Timestamp decodes Jira's created/updated values.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts Jira's layout and RFC 3339.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid jira timestamp %q", s)
}

// MarshalJSON writes the Jira layout.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.Format(timeLayout) + `"`), nil
}

// Issue represents a Jira issue
type Issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Self   string `json:"self"`
	Fields Fields `json:"fields"`
}

// Type returns the issue type name, e.g. "Bug".
func (i *Issue) Type() string {
	return i.Fields.IssueType.Name
}

// HasLabel reports whether the issue carries label. Labels are matched
// exactly; Jira stores them case-sensitively.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Fields.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Fields represents Jira issue fields
type Fields struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	IssueType   IssueType `json:"issuetype"`
	Status      Status    `json:"status"`
	Labels      []string  `json:"labels"`
	Project     Project   `json:"project"`
	Created     Timestamp `json:"created"`
}

// IssueType represents a Jira issue type
type IssueType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Status represents a Jira status
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User represents a Jira user
type User struct {
	AccountID   string `json:"accountId,omitempty"`
	DisplayName string `json:"displayName"`
}

// Identity is the principal the daemon acts as.
type Identity struct {
	AccountID   string
	DisplayName string
}

// Project represents a Jira project
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Comment represents a Jira comment
type Comment struct {
	ID      string    `json:"id"`
	Body    string    `json:"body"`
	Author  User      `json:"author"`
	Created Timestamp `json:"created"`
}

// commentPage is one page of GET /issue/{key}/comment.
type commentPage struct {
	Comments   []Comment `json:"comments"`
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
}

// searchPage is one page of GET /search/jql.
type searchPage struct {
	Issues        []*Issue `json:"issues"`
	NextPageToken string   `json:"nextPageToken"`
	IsLast        bool     `json:"isLast"`
}

// RemoteLink represents a Jira remote link (for PR linking)
type RemoteLink struct {
	GlobalID string           `json:"globalId,omitempty"`
	Object   RemoteLinkObject `json:"object"`
}

// RemoteLinkObject represents the object in a remote link
type RemoteLinkObject struct {
	URL     string          `json:"url"`
	Title   string          `json:"title"`
	Summary string          `json:"summary,omitempty"`
	Icon    *RemoteLinkIcon `json:"icon,omitempty"`
}

// RemoteLinkIcon represents an icon for a remote link
type RemoteLinkIcon struct {
	URL16x16 string `json:"url16x16"`
	Title    string `json:"title"`
}

// CandidateJQL selects issues in project carrying any of labels and not
// already claimed with the processing label, oldest first.
func CandidateJQL(project string, labels []string, processing string) string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = quoteJQL(l)
	}

	var parts []string
	if project != "" {
		parts = append(parts, "project = "+quoteJQL(project))
	}
	parts = append(parts, "labels in ("+strings.Join(quoted, ", ")+")")
	if processing != "" {
		parts = append(parts, "labels != "+quoteJQL(processing))
	}
	return strings.Join(parts, " AND ") + " ORDER BY created ASC"
}

// ProcessingJQL selects issues left carrying the processing label.
func ProcessingJQL(project, processing string) string {
	jql := "labels = " + quoteJQL(processing)
	if project != "" {
		jql = "project = " + quoteJQL(project) + " AND " + jql
	}
	return jql
}

func quoteJQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
