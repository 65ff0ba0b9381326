package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/executor"
	"github.com/alekspetrov/alm/internal/logging"
)

// Fixed comment headers. Result headers double as the markers that chained
// actions look for, so they must not change once comments exist.
const (
	HeaderInvestigation  = "INVESTIGATION RESULTS"
	HeaderImpact         = "IMPACT ANALYSIS"
	HeaderRecommendation = "RECOMMENDATIONS"
	HeaderFix            = "FIX CREATED"
	HeaderImplementation = "IMPLEMENTATION CREATED"
	HeaderCodeReview     = "CODE REVIEW COMPLETE"
	HeaderSecurityReview = "SECURITY REVIEW COMPLETE"

	HeaderInvalidType    = "INVALID ISSUE TYPE"
	HeaderBlocked        = "RESPONSE BLOCKED"
	HeaderInvalidTicket  = "INVALID TICKET"
	HeaderNoChanges      = "NO CHANGES"
	HeaderCodeReviewFail = "CODE REVIEW FAILED"
	HeaderSecReviewFail  = "SECURITY REVIEW FAILED"
)

// logger returns the action logger with issue fields from ctx.
func (d *Deps) logger(ctx context.Context) *slog.Logger {
	base := d.Log
	if base == nil {
		base = logging.WithComponent("actions")
	}
	return logging.FromContext(ctx, base)
}

// checkType enforces the descriptor's allowed issue types. On a mismatch it
// posts one rejection comment, removes the trigger label and returns a
// rejected outcome; ok is false and nothing else may run.
func checkType(ctx context.Context, issue *jira.Issue, deps *Deps, desc Descriptor) (Outcome, bool, error) {
	issueType := issue.Type()
	if desc.Allows(issueType) {
		return Outcome{}, true, nil
	}

	deps.logger(ctx).Debug("Issue type not allowed",
		slog.String("issue_type", issueType),
		slog.Any("allowed", desc.AllowedTypes),
	)

	body := fmt.Sprintf("The *%s* label cannot run on issues of type *%s*.\n\nAllowed types: %s\n\n"+
		"Change the issue type or use a different label.",
		desc.Label, issueType, strings.Join(desc.AllowedTypes, ", "))
	if _, err := deps.Tracker.AddComment(ctx, issue.Key, jira.FormatComment(HeaderInvalidType, body)); err != nil {
		return Outcome{}, false, fail(KindTracker, "post rejection", err)
	}
	if err := deps.Tracker.RemoveLabel(ctx, issue.Key, desc.Label); err != nil {
		return Outcome{}, false, fail(KindTracker, "remove label", err)
	}

	return Outcome{
		Status:  StatusRejected,
		Summary: fmt.Sprintf("rejected %s: issue type %s not in %v", issue.Key, issueType, desc.AllowedTypes),
	}, false, nil
}

// costLine is appended to result comments.
func costLine(cost float64) string {
	return fmt.Sprintf("\n\n---\n_Cost: $%.4f_", cost)
}

// publish screens a result comment and posts it, or posts the blocked notice
// in its place. The trigger label is removed either way.
func publish(ctx context.Context, issue *jira.Issue, deps *Deps, desc Descriptor, header, body string, cost float64) (Outcome, error) {
	text := jira.FormatComment(header, body+costLine(cost))

	verdict := deps.Gate.Validate(text)
	status := StatusSucceeded
	summary := fmt.Sprintf("%s posted for %s", strings.ToLower(header), issue.Key)
	if verdict.Blocked {
		deps.logger(ctx).Warn("Result withheld by safety gate", slog.String("reason", verdict.Reason))
		text = blockedNotice(desc, verdict.Reason)
		status = StatusBlocked
		summary = fmt.Sprintf("%s withheld for %s: %s", strings.ToLower(header), issue.Key, verdict.Reason)
	}

	if _, err := deps.Tracker.AddComment(ctx, issue.Key, text); err != nil {
		return Outcome{}, fail(KindTracker, "post result", err)
	}
	if err := deps.Tracker.RemoveLabel(ctx, issue.Key, desc.Label); err != nil {
		return Outcome{}, fail(KindTracker, "remove label", err)
	}
	return Outcome{Status: status, Summary: summary, Reason: verdict.Reason, CostUSD: cost}, nil
}

// blockedNotice replaces content the gate refused. It names the reason tag
// and nothing else.
func blockedNotice(desc Descriptor, reason string) string {
	body := fmt.Sprintf("The response for *%s* was withheld because it failed the output safety check (%s).\n\n"+
		"Nothing was published. Ask an administrator to review the run logs.", desc.Label, reason)
	return jira.FormatComment(HeaderBlocked, body)
}

// postNotice posts a fixed-text comment and removes the trigger label.
func postNotice(ctx context.Context, issue *jira.Issue, deps *Deps, desc Descriptor, header, body string) error {
	if _, err := deps.Tracker.AddComment(ctx, issue.Key, jira.FormatComment(header, body)); err != nil {
		return fail(KindTracker, "post notice", err)
	}
	if err := deps.Tracker.RemoveLabel(ctx, issue.Key, desc.Label); err != nil {
		return fail(KindTracker, "remove label", err)
	}
	return nil
}

// FindPriorResult returns the body of the newest comment written by self
// whose body starts with marker. Comments must already be newest first.
func FindPriorResult(ctx context.Context, tracker Tracker, self jira.Identity, issueKey, marker string) (string, bool, error) {
	comments, err := tracker.GetComments(ctx, issueKey)
	if err != nil {
		return "", false, err
	}
	return latestByMarker(comments, self, marker)
}

func latestByMarker(comments []jira.Comment, self jira.Identity, marker string) (string, bool, error) {
	for _, c := range comments {
		if c.Author.AccountID != self.AccountID {
			continue
		}
		if strings.HasPrefix(c.Body, marker) {
			return c.Body, true, nil
		}
	}
	return "", false, nil
}

// chainInput describes an earlier result an action consumes.
type chainInput struct {
	Marker string
	Title  string
	Intro  string
}

var (
	chainInvestigation = chainInput{
		Marker: HeaderInvestigation,
		Title:  "Prior Investigation",
		Intro:  "The following investigation was already performed on this issue:",
	}
	chainRecommendation = chainInput{
		Marker: HeaderRecommendation,
		Title:  "Recommendations",
		Intro:  "The following recommendations were provided:",
	}
	chainApproach = chainInput{
		Marker: HeaderRecommendation,
		Title:  "Recommended Approach",
	}
)

// priorAnalysis renders the earlier results found for inputs as markdown
// sections. Missing results are skipped.
func priorAnalysis(ctx context.Context, issue *jira.Issue, deps *Deps, inputs []chainInput) (string, error) {
	if len(inputs) == 0 {
		return "", nil
	}
	comments, err := deps.Tracker.GetComments(ctx, issue.Key)
	if err != nil {
		return "", fail(KindTracker, "get comments", err)
	}

	var sections []string
	for _, in := range inputs {
		body, ok, _ := latestByMarker(comments, deps.Self, in.Marker)
		if !ok {
			deps.logger(ctx).Info("No prior result found", slog.String("marker", in.Marker))
			continue
		}
		if in.Intro == "" {
			sections = append(sections, fmt.Sprintf("## %s\n\n%s", in.Title, body))
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s\n\n%s", in.Title, in.Intro, body))
	}
	return strings.Join(sections, "\n\n"), nil
}

// runAgent renders the action prompt and runs it in dir.
func runAgent(ctx context.Context, deps *Deps, desc Descriptor, dir string, data executor.PromptData) (string, float64, error) {
	prompt, err := deps.Prompts.Render(desc.Prompt, data)
	if err != nil {
		return "", 0, fail(KindInternal, "render prompt", err)
	}
	res, err := deps.Agent.Execute(ctx, executor.Request{
		Action:  desc.Prompt,
		WorkDir: dir,
		Prompt:  prompt,
		Profile: desc.Profile,
	})
	if err != nil {
		return "", 0, fail(KindAgentFailed, "run agent", err)
	}
	deps.logger(ctx).Info("Agent finished",
		slog.Float64("cost_usd", res.CostUSD),
		slog.Duration("duration", res.Duration),
		slog.String("session_id", res.SessionID),
	)
	return res.Content, res.CostUSD, nil
}

// issueData is the prompt data every action starts from.
func issueData(issue *jira.Issue) executor.PromptData {
	return executor.PromptData{
		IssueKey:    issue.Key,
		Summary:     issue.Fields.Summary,
		Description: issue.Fields.Description,
	}
}
