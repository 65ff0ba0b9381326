// Package auth keeps an OAuth client-credentials session with Atlassian valid
// for the lifetime of the daemon.
//
// The Manager exchanges the service account's client id and secret for a
// short-lived bearer token, resolves which Jira site (cloud id) the token may
// reach, and hands both out as an immutable Session. Refresh is lazy and
// synchronous: the call that finds the token inside the refresh skew window
// performs the exchange.
//
// Consumers that build stateful clients from a Session must remember the
// token they were built with and rebuild when Token returns a different one.
// The Manager does not track its consumers.
package auth

import (
	"errors"
	"fmt"
	"time"
)

// DefaultRefreshSkew is how long before expiry a token is considered stale.
const DefaultRefreshSkew = 5 * time.Minute

const (
	DefaultAuthURL = "https://auth.atlassian.com"
	DefaultAPIURL  = "https://api.atlassian.com"
)

// Session is one issued token and the endpoint it is authorized against.
type Session struct {
	AccessToken string
	Scope       string
	IssuedAt    time.Time
	ExpiresAt   time.Time

	// CloudID identifies the Jira site; Endpoint is the REST root for it.
	CloudID  string
	SiteURL  string
	Endpoint string
}

// ValidAt reports whether the session may still be used at now given skew.
func (s Session) ValidAt(now time.Time, skew time.Duration) bool {
	return s.AccessToken != "" && now.Before(s.ExpiresAt.Add(-skew))
}

// Config holds the client credentials and identity provider endpoints.
type Config struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	SiteURL      string        `yaml:"site_url"` // e.g. https://company.atlassian.net
	AuthURL      string        `yaml:"auth_url"`
	APIURL       string        `yaml:"api_url"`
	RefreshSkew  time.Duration `yaml:"refresh_skew"`
}

// DefaultConfig returns the public Atlassian endpoints and default skew.
func DefaultConfig() *Config {
	return &Config{
		AuthURL:     DefaultAuthURL,
		APIURL:      DefaultAPIURL,
		RefreshSkew: DefaultRefreshSkew,
	}
}

// AuthError reports a failed token exchange or endpoint resolution.
type AuthError struct {
	Op  string // "exchange" or "resolve"
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is, or wraps, an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
