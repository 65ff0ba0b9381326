// Package executor runs the Claude Code CLI against a checked-out repository.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/alekspetrov/alm/internal/logging"
)

// Request is one agent run.
type Request struct {
	// Action selects prompt and settings overrides, e.g. "investigate"
	Action  string
	WorkDir string
	Prompt  string
	Profile Profile
}

// Result is the parsed outcome of a successful run.
type Result struct {
	Content           string
	CostUSD           float64
	Duration          time.Duration
	SessionID         string
	PermissionDenials []PermissionDenial
}

// PermissionDenial is a tool call the settings refused.
type PermissionDenial struct {
	ToolName  string                 `json:"tool_name"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	ToolInput map[string]interface{} `json:"tool_input,omitempty"`
}

// cliResult is the JSON document printed by `claude -p --output-format json`.
type cliResult struct {
	Type              string             `json:"type"`
	Subtype           string             `json:"subtype"`
	IsError           bool               `json:"is_error"`
	Result            *string            `json:"result"`
	SessionID         string             `json:"session_id"`
	DurationMS        int64              `json:"duration_ms"`
	TotalCostUSD      *float64           `json:"total_cost_usd"`
	CostUSD           float64            `json:"cost_usd"`
	PermissionDenials []PermissionDenial `json:"permission_denials"`
}

// Runner executes prompts through the Claude Code CLI.
type Runner struct {
	config  *Config
	timeout time.Duration
	cmd     CommandRunner
	log     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithCommandRunner replaces the os/exec runner, mainly for tests.
func WithCommandRunner(cr CommandRunner) Option {
	return func(r *Runner) {
		r.cmd = cr
	}
}

// NewRunner creates a Runner from config.
func NewRunner(config *Config, opts ...Option) (*Runner, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Command == "" {
		config.Command = "claude"
	}
	timeout, err := config.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		config:  config,
		timeout: timeout,
		cmd:     ExecRunner{},
		log:     logging.WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsAvailable checks if the Claude Code CLI is installed.
func (r *Runner) IsAvailable() bool {
	_, err := exec.LookPath(r.config.Command)
	return err == nil
}

// Command returns the configured CLI path.
func (r *Runner) Command() string {
	return r.config.Command
}

// Execute installs the permission settings for req.Profile into req.WorkDir
// and runs the prompt. It returns ErrTimeout, *ExitError or
// *MalformedOutputError on failure.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := installSettings(req.WorkDir, r.config.PromptsDir, req.Action, req.Profile); err != nil {
		return nil, err
	}

	args := []string{"-p", req.Prompt, "--output-format", "json"}
	if r.config.Model != "" {
		args = append(args, "--model", r.config.Model)
	}
	args = append(args, r.config.ExtraArgs...)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.Debug("Starting Claude Code",
		slog.String("action", req.Action),
		slog.String("profile", string(req.Profile)),
		slog.Duration("timeout", r.timeout),
	)

	start := time.Now()
	stdout, stderr, err := r.cmd.Run(runCtx, req.WorkDir, r.config.Command, args...)
	elapsed := time.Since(start)
	r.log.Debug("Claude Code finished", slog.Duration("elapsed", elapsed))

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(string(stderr))
			if detail == "" {
				detail = strings.TrimSpace(string(stdout))
			}
			return nil, &ExitError{Code: exitErr.ExitCode(), Detail: truncate(detail, 500)}
		}
		return nil, fmt.Errorf("failed to run Claude Code: %w", err)
	}

	result, err := parseResult(stdout)
	if err != nil {
		return nil, err
	}
	if result.Duration == 0 {
		result.Duration = elapsed
	}

	if len(result.PermissionDenials) > 0 {
		tools := make([]string, len(result.PermissionDenials))
		for i, d := range result.PermissionDenials {
			tools[i] = d.ToolName
		}
		// Denials can mean the issue text tried to steer the agent.
		r.log.Warn("Agent tool calls were denied",
			slog.String("action", req.Action),
			slog.Any("tools", tools),
		)
	}
	return result, nil
}

// parseResult decodes the CLI's JSON result document.
func parseResult(stdout []byte) (*Result, error) {
	out := strings.TrimSpace(string(stdout))
	if out == "" {
		return nil, &MalformedOutputError{Err: errors.New("empty output")}
	}

	var doc cliResult
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		return nil, &MalformedOutputError{Output: truncate(out, 200), Err: err}
	}
	if doc.Result == nil {
		return nil, &MalformedOutputError{Output: truncate(out, 200), Err: errors.New("missing result field")}
	}
	if doc.IsError {
		return nil, &ExitError{Code: 0, Detail: truncate(doc.Subtype+": "+*doc.Result, 500)}
	}

	cost := doc.CostUSD
	if doc.TotalCostUSD != nil {
		cost = *doc.TotalCostUSD
	}
	return &Result{
		Content:           *doc.Result,
		CostUSD:           cost,
		Duration:          time.Duration(doc.DurationMS) * time.Millisecond,
		SessionID:         doc.SessionID,
		PermissionDenials: doc.PermissionDenials,
	}, nil
}
