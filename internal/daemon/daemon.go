// Package daemon runs the poll-claim-dispatch loop: it lists labeled issues,
// claims each one with the processing label, hands it to the routed action
// and reports the outcome back on the issue.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/alm/internal/actions"
	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/auth"
	"github.com/alekspetrov/alm/internal/history"
	"github.com/alekspetrov/alm/internal/logging"
)

// DefaultInterval is the wait between cycles when no schedule is set.
const DefaultInterval = 30 * time.Second

// Tracker is the part of the Jira gateway the loop itself uses.
type Tracker interface {
	SearchIssues(ctx context.Context, jql string, maxResults int) ([]*jira.Issue, error)
	AddLabel(ctx context.Context, issueKey, label string) error
	RemoveLabel(ctx context.Context, issueKey, label string) error
	AddComment(ctx context.Context, issueKey, body string) (*jira.Comment, error)
}

// Router resolves trigger labels to actions.
type Router interface {
	Route(label string) (actions.Action, bool)
	Labels() []string
}

// Recorder journals finished runs.
type Recorder interface {
	Record(ctx context.Context, run history.Run) error
}

// Config controls the loop.
type Config struct {
	ProjectKey      string
	ProcessingLabel string
	MaxResults      int
	// Interval is the wait between cycles. Ignored when Schedule is set.
	Interval time.Duration
	// Schedule is an optional five-field cron expression.
	Schedule string
	// DryRun lists work without claiming or dispatching it.
	DryRun bool
}

// Item is one (issue, label) pair found in a cycle.
type Item struct {
	Issue  *jira.Issue
	Label  string
	Action actions.Action
}

// ItemResult is what happened to one item.
type ItemResult struct {
	IssueKey  string
	Label     string
	Status    actions.Status
	Summary   string
	ErrorKind string
	CostUSD   float64
	PRURL     string
}

// Cycle summarizes one pass over the tracker.
type Cycle struct {
	ID      string
	Items   []ItemResult
	Skipped bool
}

// Daemon is the single worker that processes labeled issues one at a time.
type Daemon struct {
	tracker  Tracker
	router   Router
	deps     *actions.Deps
	notifier *jira.Notifier
	recorder Recorder
	config   Config
	schedule cron.Schedule
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithRecorder journals every dispatched item.
func WithRecorder(r Recorder) Option {
	return func(d *Daemon) {
		d.recorder = r
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) {
		d.log = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		d.now = now
	}
}

// New creates a daemon. An invalid schedule is an error.
func New(tracker Tracker, router Router, deps *actions.Deps, cfg Config, opts ...Option) (*Daemon, error) {
	if cfg.ProcessingLabel == "" {
		cfg.ProcessingLabel = jira.DefaultConfig().ProcessingLabel
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = jira.DefaultConfig().MaxResults
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	d := &Daemon{
		tracker:  tracker,
		router:   router,
		deps:     deps,
		notifier: jira.NewNotifier(tracker),
		config:   cfg,
		now:      time.Now,
		log:      logging.WithComponent("daemon"),
	}
	if cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
		d.schedule = sched
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run polls until ctx is cancelled. Cycle errors are logged and the loop
// carries on.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("Starting daemon",
		slog.String("project", d.config.ProjectKey),
		slog.Any("labels", d.router.Labels()),
		slog.String("processing_label", d.config.ProcessingLabel),
		slog.Duration("interval", d.config.Interval),
		slog.String("schedule", d.config.Schedule),
		slog.Bool("dry_run", d.config.DryRun),
	)

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("Cycle failed", slog.Any("error", err))
		}

		wait := d.nextWait()
		d.log.Debug("Waiting for next cycle", slog.Duration("wait", wait))
		if err := sleep(ctx, wait); err != nil {
			d.log.Info("Daemon stopped")
			return nil
		}
	}
}

// nextWait returns the time until the next cycle.
func (d *Daemon) nextWait() time.Duration {
	if d.schedule == nil {
		return d.config.Interval
	}
	now := d.now()
	wait := d.schedule.Next(now).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunOnce performs one cycle. A failed listing is returned; failures of
// individual items are reported on the issue and in the result.
func (d *Daemon) RunOnce(ctx context.Context) (*Cycle, error) {
	cycle := &Cycle{ID: uuid.New().String()}
	ctx = logging.ContextWithCycleID(ctx, cycle.ID)
	log := logging.FromContext(ctx, d.log)

	items, err := d.List(ctx)
	if err != nil {
		return cycle, err
	}
	log.Debug("Cycle listed work", slog.Int("items", len(items)))

	if d.config.DryRun {
		for _, it := range items {
			log.Info("Would dispatch",
				slog.String("issue", it.Issue.Key),
				slog.String("label", it.Label),
				slog.String("type", it.Issue.Type()),
			)
		}
		cycle.Skipped = true
		return cycle, nil
	}

	// A stop signal ends the cycle between items; the item in flight runs to
	// completion, bounded by the agent timeout.
	work := context.WithoutCancel(ctx)
	for _, it := range items {
		if ctx.Err() != nil {
			log.Info("Cycle interrupted", slog.Int("remaining", len(items)-len(cycle.Items)))
			break
		}
		res, err := d.process(work, cycle.ID, it)
		cycle.Items = append(cycle.Items, res)
		if err != nil {
			log.Error("Tracker access lost, ending cycle",
				slog.Int("remaining", len(items)-len(cycle.Items)),
				slog.Any("error", err),
			)
			return cycle, err
		}
	}
	return cycle, nil
}

// List returns the (issue, label) pairs that are ready, in dispatch order:
// issues oldest first, labels sorted within an issue.
func (d *Daemon) List(ctx context.Context) ([]Item, error) {
	jql := jira.CandidateJQL(d.config.ProjectKey, d.router.Labels(), d.config.ProcessingLabel)
	issues, err := d.tracker.SearchIssues(ctx, jql, d.config.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Fields.Created.Before(issues[j].Fields.Created.Time)
	})

	var items []Item
	for _, issue := range issues {
		if issue.HasLabel(d.config.ProcessingLabel) {
			continue
		}
		labels := append([]string(nil), issue.Fields.Labels...)
		sort.Strings(labels)
		seen := make(map[string]bool, len(labels))
		for _, label := range labels {
			if seen[label] {
				continue
			}
			seen[label] = true
			a, ok := d.router.Route(label)
			if !ok {
				continue
			}
			items = append(items, Item{Issue: issue, Label: label, Action: a})
		}
	}
	return items, nil
}

// process claims, dispatches and resolves one item. The processing label is
// always released, even when ctx has been cancelled. A credential failure is
// returned so the caller can end the cycle; the trigger label is left in place
// for the next one.
func (d *Daemon) process(ctx context.Context, cycleID string, it Item) (res ItemResult, fatal error) {
	key := it.Issue.Key
	ctx = logging.ContextWithIssue(ctx, key, it.Label)
	log := logging.FromContext(ctx, d.log)
	started := d.now()

	res = ItemResult{IssueKey: key, Label: it.Label}
	defer func() {
		d.record(ctx, cycleID, res, started)
	}()

	if err := d.tracker.AddLabel(ctx, key, d.config.ProcessingLabel); err != nil {
		log.Warn("Failed to claim issue", slog.Any("error", err))
		res.Status = actions.StatusFailed
		res.ErrorKind = actions.KindOf(err)
		res.Summary = "claim failed"
		if auth.IsAuthError(err) {
			return res, err
		}
		return res, nil
	}
	defer d.release(ctx, key)

	log.Info("Dispatching", slog.String("summary", it.Issue.Fields.Summary))
	out, err := d.dispatch(ctx, it)
	if err != nil {
		kind := actions.KindOf(err)
		log.Error("Action failed", slog.String("kind", kind), slog.Any("error", err))
		res.Status = actions.StatusFailed
		res.ErrorKind = kind
		res.Summary = fmt.Sprintf("%s failed: %s", it.Label, kind)
		if auth.IsAuthError(err) {
			return res, err
		}
		d.resolveFailure(ctx, key, it.Label, kind)
		return res, nil
	}

	// Handlers remove the label themselves; removing again is harmless.
	if err := d.tracker.RemoveLabel(ctx, key, it.Label); err != nil {
		log.Warn("Failed to remove trigger label", slog.Any("error", err))
	}
	log.Info("Action finished",
		slog.String("status", string(out.Status)),
		slog.String("result", out.Summary),
		slog.Float64("cost_usd", out.CostUSD),
	)
	res.Status = out.Status
	res.Summary = out.Summary
	res.CostUSD = out.CostUSD
	res.PRURL = out.PRURL
	return res, nil
}

// dispatch runs the action, turning a panic into an internal failure.
func (d *Daemon) dispatch(ctx context.Context, it Item) (out actions.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &actions.HandlerError{
				Kind: actions.KindInternal,
				Op:   "dispatch",
				Err:  fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return it.Action.Execute(ctx, it.Issue, d.deps)
}

// resolveFailure reports a failure on the issue and removes the trigger
// label so the item is not retried until someone re-adds it.
func (d *Daemon) resolveFailure(ctx context.Context, key, label, kind string) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx, d.log)
	if err := d.notifier.PostFailure(ctx, key, label, kind); err != nil {
		log.Warn("Failed to post failure comment", slog.Any("error", err))
	}
	if err := d.tracker.RemoveLabel(ctx, key, label); err != nil {
		log.Warn("Failed to remove trigger label", slog.Any("error", err))
	}
}

func (d *Daemon) release(ctx context.Context, key string) {
	ctx = context.WithoutCancel(ctx)
	if err := d.tracker.RemoveLabel(ctx, key, d.config.ProcessingLabel); err != nil {
		logging.FromContext(ctx, d.log).Warn("Failed to release issue", slog.Any("error", err))
	}
}

func (d *Daemon) record(ctx context.Context, cycleID string, res ItemResult, started time.Time) {
	if d.recorder == nil {
		return
	}
	run := history.Run{
		CycleID:    cycleID,
		IssueKey:   res.IssueKey,
		Label:      res.Label,
		Status:     string(res.Status),
		Summary:    res.Summary,
		ErrorKind:  res.ErrorKind,
		CostUSD:    res.CostUSD,
		PRURL:      res.PRURL,
		StartedAt:  started,
		FinishedAt: d.now(),
	}
	if err := d.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		logging.FromContext(ctx, d.log).Warn("Failed to record run", slog.Any("error", err))
	}
}

// Orphans lists issues still carrying the processing label, typically left
// by a crash mid-dispatch.
func (d *Daemon) Orphans(ctx context.Context) ([]*jira.Issue, error) {
	issues, err := d.tracker.SearchIssues(ctx, jira.ProcessingJQL(d.config.ProjectKey, d.config.ProcessingLabel), d.config.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphans: %w", err)
	}
	return issues, nil
}

// ReleaseOrphans removes the processing label from every orphan so the next
// cycle picks them up again. It is run by an operator, never automatically.
func (d *Daemon) ReleaseOrphans(ctx context.Context) ([]string, error) {
	issues, err := d.Orphans(ctx)
	if err != nil {
		return nil, err
	}
	var released []string
	var errs []error
	for _, issue := range issues {
		if err := d.tracker.RemoveLabel(ctx, issue.Key, d.config.ProcessingLabel); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", issue.Key, err))
			continue
		}
		d.log.Info("Released orphaned issue", slog.String("issue", issue.Key))
		released = append(released, issue.Key)
	}
	return released, errors.Join(errs...)
}
