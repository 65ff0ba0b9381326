package executor

import (
	"fmt"
	"time"
)

// DefaultTimeout bounds a single agent run.
const DefaultTimeout = 10 * time.Minute

// Config contains Claude Code agent configuration.
type Config struct {
	// Command is the path to the claude CLI (default: "claude")
	Command string `yaml:"command,omitempty"`

	// Timeout is a Go duration string, e.g. "10m"
	Timeout string `yaml:"timeout,omitempty"`

	// Model is passed as --model when set
	Model string `yaml:"model,omitempty"`

	// ExtraArgs are additional arguments to pass to the CLI
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// PromptsDir, when set, overrides embedded prompts ({action}.md) and
	// permission settings ({action}.json) per action.
	PromptsDir string `yaml:"prompts_dir,omitempty"`
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Command: "claude",
		Timeout: "10m",
	}
}

// TimeoutDuration parses Timeout, falling back to DefaultTimeout when empty.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid agent timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("agent timeout must be positive, got %s", c.Timeout)
	}
	return d, nil
}
