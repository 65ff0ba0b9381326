package github

import (
	"fmt"
	"strings"
)

// Config holds repository settings.
type Config struct {
	Token      string `yaml:"token"`
	Repo       string `yaml:"repo"` // "owner/name"
	BaseBranch string `yaml:"base_branch"`
	CloneDepth int    `yaml:"clone_depth"`
	// BaseURL overrides the REST endpoint, e.g. for GitHub Enterprise.
	BaseURL string `yaml:"base_url,omitempty"`
	// CloneHost is the git host used for clone URLs.
	CloneHost   string `yaml:"clone_host,omitempty"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// DefaultConfig returns default repository settings.
func DefaultConfig() *Config {
	return &Config{
		BaseBranch:  "main",
		CloneDepth:  1,
		CloneHost:   "github.com",
		AuthorName:  "alm",
		AuthorEmail: "alm@users.noreply.github.com",
	}
}

// ParseRepo splits "owner/name".
func ParseRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number  int
	Title   string
	HTMLURL string
}

// PRInfo describes a pull request under review.
type PRInfo struct {
	Number       int
	Title        string
	Body         string
	HeadBranch   string
	BaseBranch   string
	HTMLURL      string
	ChangedFiles []string
}
