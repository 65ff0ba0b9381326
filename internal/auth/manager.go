package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alekspetrov/alm/internal/logging"
)

// tokenResponse is the identity provider's client-credentials reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// accessibleResource is one site the token may act on.
type accessibleResource struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// Manager owns the cached Session and refreshes it on demand.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger

	mu      sync.Mutex
	session Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager; no network call is made until Token.
func NewManager(cfg *Config, opts ...Option) *Manager {
	c := *DefaultConfig()
	if cfg != nil {
		c.ClientID = cfg.ClientID
		c.ClientSecret = cfg.ClientSecret
		c.SiteURL = strings.TrimSuffix(cfg.SiteURL, "/")
		if cfg.AuthURL != "" {
			c.AuthURL = cfg.AuthURL
		}
		if cfg.APIURL != "" {
			c.APIURL = cfg.APIURL
		}
		if cfg.RefreshSkew > 0 {
			c.RefreshSkew = cfg.RefreshSkew
		}
	}
	c.AuthURL = strings.TrimSuffix(c.AuthURL, "/")
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")

	m := &Manager{
		cfg:        c,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		log:        logging.WithComponent("auth"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a session that stays valid for at least the refresh skew.
// A cached session is returned untouched; otherwise the credentials are
// exchanged again. Failures are returned as *AuthError and never retried here.
func (m *Manager) Token(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.session.ValidAt(now, m.cfg.RefreshSkew) {
		return m.session, nil
	}

	tok, err := m.exchange(ctx)
	if err != nil {
		return Session{}, &AuthError{Op: "exchange", Err: err}
	}

	next := Session{
		AccessToken: tok.AccessToken,
		Scope:       tok.Scope,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Duration(tok.ExpiresIn) * time.Second),
		CloudID:     m.session.CloudID,
		SiteURL:     m.session.SiteURL,
		Endpoint:    m.session.Endpoint,
	}

	if next.AccessToken != m.session.AccessToken || next.Endpoint == "" {
		res, err := m.resolveSite(ctx, next.AccessToken)
		if err != nil {
			return Session{}, &AuthError{Op: "resolve", Err: err}
		}
		next.CloudID = res.ID
		next.SiteURL = strings.TrimSuffix(res.URL, "/")
		next.Endpoint = m.cfg.APIURL + "/ex/jira/" + res.ID
	}

	m.log.Info("Session refreshed",
		slog.String("cloud_id", next.CloudID),
		slog.Time("expires_at", next.ExpiresAt),
	)
	m.session = next
	return next, nil
}

// Invalidate drops the cached session so the next Token call re-exchanges.
// Used after the tracker rejects a token before its advertised expiry.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.session.AccessToken = ""
	m.mu.Unlock()
}

func (m *Manager) exchange(ctx context.Context) (*tokenResponse, error) {
	if m.cfg.ClientID == "" || m.cfg.ClientSecret == "" {
		return nil, errors.New("client id and secret are required")
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     m.cfg.ClientID,
		"client_secret": m.cfg.ClientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.AuthURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var tok tokenResponse
	if err := m.do(req, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}
	if tok.ExpiresIn <= 0 {
		return nil, fmt.Errorf("token response has invalid expires_in %d", tok.ExpiresIn)
	}
	return &tok, nil
}

func (m *Manager) resolveSite(ctx context.Context, token string) (*accessibleResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.APIURL+"/oauth/token/accessible-resources", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var resources []accessibleResource
	if err := m.do(req, &resources); err != nil {
		return nil, err
	}
	return pickResource(resources, m.cfg.SiteURL)
}

// pickResource selects the configured site, or the first one when no site
// is configured.
func pickResource(resources []accessibleResource, siteURL string) (*accessibleResource, error) {
	if len(resources) == 0 {
		return nil, errors.New("token has no accessible resources")
	}
	if siteURL == "" {
		return &resources[0], nil
	}
	for i := range resources {
		if strings.EqualFold(strings.TrimSuffix(resources[i].URL, "/"), siteURL) {
			return &resources[i], nil
		}
	}
	return nil, fmt.Errorf("site %s is not among the token's accessible resources", siteURL)
}

func (m *Manager) do(req *http.Request, result interface{}) error {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The body of a rejected exchange may echo request details; keep only the status.
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
