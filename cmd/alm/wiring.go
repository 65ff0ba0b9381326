package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/alm/internal/actions"
	"github.com/alekspetrov/alm/internal/adapters/github"
	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/auth"
	"github.com/alekspetrov/alm/internal/config"
	"github.com/alekspetrov/alm/internal/daemon"
	"github.com/alekspetrov/alm/internal/executor"
	"github.com/alekspetrov/alm/internal/history"
	"github.com/alekspetrov/alm/internal/logging"
	"github.com/alekspetrov/alm/internal/safety"
)

// loadConfig loads the .env file and the config file named by the flags.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile, envFile != ".env"); err != nil {
		return nil, err
	}
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// app holds every long-lived component the commands need.
type app struct {
	cfg      *config.Config
	tracker  *jira.Client
	repo     *github.Client
	agent    *executor.Runner
	registry *actions.Registry
	daemon   *daemon.Daemon
	store    *history.Store
	self     jira.Identity
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// buildApp wires the daemon. The service identity is resolved here, once,
// so a bad credential fails at startup rather than mid-cycle.
func buildApp(ctx context.Context, cfg *config.Config, dryRun bool) (*app, error) {
	log := logging.WithComponent("alm")

	sessions := auth.NewManager(cfg.Atlassian)
	tracker := jira.NewClient(sessions)

	self, err := tracker.Myself(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve service identity: %w", err)
	}
	log.Info("Authenticated", slog.String("account", self.DisplayName), slog.String("account_id", self.AccountID))

	repo, err := github.NewClient(cfg.GitHub)
	if err != nil {
		return nil, err
	}
	agent, err := executor.NewRunner(cfg.Agent)
	if err != nil {
		return nil, err
	}
	if !agent.IsAvailable() {
		log.Warn("Agent command not found on PATH", slog.String("command", agent.Command()))
	}
	gate, err := safety.NewGate(cfg.Safety)
	if err != nil {
		return nil, err
	}
	registry, err := actions.NewRegistry(cfg.Daemon.LabelPrefix)
	if err != nil {
		return nil, err
	}

	deps := &actions.Deps{
		Tracker: tracker,
		Repo:    repo,
		Agent:   agent,
		Prompts: executor.NewPrompts(cfg.Agent.PromptsDir),
		Gate:    gate,
		Self:    self,
		Log:     logging.WithComponent("actions"),
	}

	interval, err := cfg.Daemon.Interval()
	if err != nil && cfg.Daemon.Schedule == "" {
		return nil, err
	}

	a := &app{cfg: cfg, tracker: tracker, repo: repo, agent: agent, registry: registry, self: self}

	var opts []daemon.Option
	if cfg.History.Path != "" && !dryRun {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Warn("History disabled", slog.Any("error", err))
		} else {
			a.store = store
			opts = append(opts, daemon.WithRecorder(store))
		}
	}

	a.daemon, err = daemon.New(tracker, registry, deps, daemon.Config{
		ProjectKey:      cfg.Jira.ProjectKey,
		ProcessingLabel: cfg.Jira.ProcessingLabel,
		MaxResults:      cfg.Jira.MaxResults,
		Interval:        interval,
		Schedule:        cfg.Daemon.Schedule,
		DryRun:          dryRun,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
