// Package config loads the daemon configuration from YAML, a .env file and
// the process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/alm/internal/actions"
	"github.com/alekspetrov/alm/internal/adapters/github"
	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/auth"
	"github.com/alekspetrov/alm/internal/executor"
	"github.com/alekspetrov/alm/internal/logging"
	"github.com/alekspetrov/alm/internal/safety"
)

// Config represents the main configuration
type Config struct {
	Atlassian *auth.Config     `yaml:"atlassian"`
	Jira      *jira.Config     `yaml:"jira"`
	GitHub    *github.Config   `yaml:"github"`
	Agent     *executor.Config `yaml:"agent"`
	Safety    *safety.Config   `yaml:"safety"`
	Logging   *logging.Config  `yaml:"logging"`
	Daemon    *DaemonConfig    `yaml:"daemon"`
	History   *HistoryConfig   `yaml:"history"`
}

// DaemonConfig holds poll loop settings
type DaemonConfig struct {
	// PollInterval is a Go duration, e.g. "30s".
	PollInterval string `yaml:"poll_interval"`
	// Schedule is an optional cron expression that replaces PollInterval.
	Schedule    string `yaml:"schedule"`
	LabelPrefix string `yaml:"label_prefix"`
}

// Interval parses PollInterval.
func (d *DaemonConfig) Interval() (time.Duration, error) {
	if d.PollInterval == "" {
		return 30 * time.Second, nil
	}
	v, err := time.ParseDuration(d.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", d.PollInterval, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("poll_interval must be positive, got %s", d.PollInterval)
	}
	return v, nil
}

// HistoryConfig holds run journal settings. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Atlassian: auth.DefaultConfig(),
		Jira:      jira.DefaultConfig(),
		GitHub:    github.DefaultConfig(),
		Agent:     executor.DefaultConfig(),
		Safety:    safety.DefaultConfig(),
		Logging:   logging.DefaultConfig(),
		Daemon: &DaemonConfig{
			PollInterval: "30s",
			LabelPrefix:  actions.DefaultLabelPrefix,
		},
		History: &HistoryConfig{
			Path: filepath.Join(dataDir(), "history.db"),
		},
	}
}

// Load loads configuration from a file, then applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config.fillDefaults()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	config.History.Path = expandPath(config.History.Path)
	config.Logging.Dir = expandPath(config.Logging.Dir)
	config.Agent.PromptsDir = expandPath(config.Agent.PromptsDir)
	return config, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment.
// Variables already set are kept. A missing file is not an error unless it
// was asked for explicitly.
func LoadEnvFile(path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// fillDefaults restores sections an explicit `section:` with no body left nil.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Atlassian == nil {
		c.Atlassian = d.Atlassian
	}
	if c.Jira == nil {
		c.Jira = d.Jira
	}
	if c.GitHub == nil {
		c.GitHub = d.GitHub
	}
	if c.Agent == nil {
		c.Agent = d.Agent
	}
	if c.Safety == nil {
		c.Safety = d.Safety
	}
	if c.Logging == nil {
		c.Logging = d.Logging
	}
	if c.Daemon == nil {
		c.Daemon = d.Daemon
	}
	if c.History == nil {
		c.History = &HistoryConfig{}
	}
}

// applyEnv overrides secrets and deployment settings from the environment.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("JIRA_CLIENT_ID", &c.Atlassian.ClientID)
	setString("JIRA_CLIENT_SECRET", &c.Atlassian.ClientSecret)
	setString("JIRA_SITE_URL", &c.Atlassian.SiteURL)
	setString("JIRA_PROJECT_KEY", &c.Jira.ProjectKey)
	setString("GITHUB_TOKEN", &c.GitHub.Token)
	setString("GITHUB_REPO", &c.GitHub.Repo)
	setString("CLAUDE_COMMAND", &c.Agent.Command)
	setString("ALM_LOG_LEVEL", &c.Logging.Level)

	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid POLL_INTERVAL_SECONDS %q", v)
		}
		c.Daemon.PollInterval = (time.Duration(secs) * time.Second).String()
	}
	return nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	require(c.Atlassian.ClientID, "atlassian.client_id (JIRA_CLIENT_ID)")
	require(c.Atlassian.ClientSecret, "atlassian.client_secret (JIRA_CLIENT_SECRET)")
	require(c.Jira.ProjectKey, "jira.project_key (JIRA_PROJECT_KEY)")
	require(c.Jira.ProcessingLabel, "jira.processing_label")
	require(c.GitHub.Token, "github.token (GITHUB_TOKEN)")
	require(c.GitHub.Repo, "github.repo (GITHUB_REPO)")
	require(c.Agent.Command, "agent.command")

	if c.GitHub.Repo != "" {
		if _, _, err := github.ParseRepo(c.GitHub.Repo); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Jira.MaxResults < 0 {
		errs = append(errs, fmt.Errorf("jira.max_results must not be negative"))
	}
	if c.Jira.ProcessingLabel != "" && labelClash(c.Daemon.LabelPrefix, c.Jira.ProcessingLabel) {
		errs = append(errs, fmt.Errorf("jira.processing_label %q collides with an action label", c.Jira.ProcessingLabel))
	}
	if _, err := c.Agent.TimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Daemon.Schedule == "" {
		if _, err := c.Daemon.Interval(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := safety.NewGate(c.Safety); err != nil {
		errs = append(errs, fmt.Errorf("safety: %w", err))
	}

	return errors.Join(errs...)
}

// labelClash reports whether label is also the trigger label of an action.
func labelClash(prefix, label string) bool {
	r, err := actions.NewRegistry(prefix)
	if err != nil {
		return false
	}
	_, ok := r.Route(label)
	return ok
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}

func dataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".alm")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
