package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/executor"
)

// invalidTicket is the first line the implement prompt asks the agent to
// write when a story cannot be implemented as described.
const invalidTicket = "INVALID TICKET"

// change lets a read-write agent edit a branch and opens a pull request
// with the result.
type change struct {
	desc         Descriptor
	inputs       []chainInput
	branchPrefix string
	commitPrefix string
	// checkInvalid honors the INVALID TICKET sentinel.
	checkInvalid bool
	prBody       func(issue *jira.Issue, content string) string
}

func (c *change) Descriptor() Descriptor { return c.desc }

func (c *change) branch(issue *jira.Issue) string {
	return c.branchPrefix + strings.ToLower(issue.Key)
}

func (c *change) Execute(ctx context.Context, issue *jira.Issue, deps *Deps) (Outcome, error) {
	if out, ok, err := checkType(ctx, issue, deps, c.desc); !ok {
		return out, err
	}
	log := deps.logger(ctx)

	data := issueData(issue)
	prior, err := priorAnalysis(ctx, issue, deps, c.inputs)
	if err != nil {
		return Outcome{}, err
	}
	data.PriorAnalysis = prior

	dir, err := deps.Repo.Clone(ctx, "")
	if err != nil {
		return Outcome{}, fail(KindRepository, "clone", err)
	}
	defer deps.Repo.Cleanup(dir)

	branch := c.branch(issue)
	if err := deps.Repo.CreateBranch(ctx, dir, branch); err != nil {
		return Outcome{}, fail(KindRepository, "create branch", err)
	}

	content, cost, err := runAgent(ctx, deps, c.desc, dir, data)
	if err != nil {
		return Outcome{}, err
	}

	if c.checkInvalid {
		if reason, ok := parseInvalidTicket(content); ok {
			log.Info("Agent reported an invalid ticket")
			out, err := publish(ctx, issue, deps, c.desc, HeaderInvalidTicket, reason, cost)
			if err == nil && out.Status == StatusSucceeded {
				out.Status = StatusRejected
			}
			return out, err
		}
	}

	changed, err := deps.Repo.HasChanges(ctx, dir)
	if err != nil {
		return Outcome{}, fail(KindRepository, "status", err)
	}
	if !changed {
		log.Info("Agent made no changes", slog.String("branch", branch))
		return publish(ctx, issue, deps, c.desc, HeaderNoChanges, content, cost)
	}

	body := c.prBody(issue, content)
	if v := deps.Gate.Validate(body); v.Blocked {
		log.Warn("Pull request body withheld by safety gate", slog.String("reason", v.Reason))
		if err := postRaw(ctx, issue, deps, c.desc, blockedNotice(c.desc, v.Reason)); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Status:  StatusBlocked,
			Summary: fmt.Sprintf("pull request for %s withheld: %s", issue.Key, v.Reason),
			Reason:  v.Reason,
			CostUSD: cost,
		}, nil
	}

	message := fmt.Sprintf("%s%s\n\nJira: %s", c.commitPrefix, issue.Fields.Summary, issue.Key)
	if err := deps.Repo.CommitAndPush(ctx, dir, branch, message); err != nil {
		return Outcome{}, fail(KindRepository, "commit and push", err)
	}

	title := fmt.Sprintf("%s%s [%s]", c.commitPrefix, issue.Fields.Summary, issue.Key)
	pr, err := deps.Repo.CreatePullRequest(ctx, branch, title, body)
	if err != nil {
		return Outcome{}, fail(KindRepository, "create pull request", err)
	}
	log.Info("Pull request opened", slog.Int("pr", pr.Number), slog.String("url", pr.HTMLURL))

	if err := deps.Tracker.AddPRLink(ctx, issue.Key, pr.HTMLURL, pr.Title); err != nil {
		log.Warn("Failed to link pull request", slog.Any("error", err))
	}

	note := fmt.Sprintf("Pull Request: %s\n\nReview the changes and merge when ready.", pr.HTMLURL)
	out, err := publish(ctx, issue, deps, c.desc, c.desc.ResultHeader, note, cost)
	out.PRURL = pr.HTMLURL
	return out, err
}

// postRaw posts an already formatted comment and removes the trigger label.
func postRaw(ctx context.Context, issue *jira.Issue, deps *Deps, desc Descriptor, text string) error {
	if _, err := deps.Tracker.AddComment(ctx, issue.Key, text); err != nil {
		return fail(KindTracker, "post notice", err)
	}
	if err := deps.Tracker.RemoveLabel(ctx, issue.Key, desc.Label); err != nil {
		return fail(KindTracker, "remove label", err)
	}
	return nil
}

// parseInvalidTicket reports whether content is the INVALID TICKET sentinel
// and returns the explanation that follows it.
func parseInvalidTicket(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == invalidTicket {
		return "The agent could not implement this story as described.", true
	}
	if rest, ok := strings.CutPrefix(trimmed, invalidTicket+"\n"); ok {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

func fixPRBody(issue *jira.Issue, content string) string {
	return fmt.Sprintf("## Summary\n\nFixes %s: %s\n\n## AI Implementation\n\n%s",
		issue.Key, issue.Fields.Summary, content)
}

func implementPRBody(issue *jira.Issue, content string) string {
	return fmt.Sprintf("## Summary\n\nImplements %s: %s\n\n## Description\n\n%s\n\n## Implementation\n\n%s",
		issue.Key, issue.Fields.Summary, issue.Fields.Description, content)
}

func newFix(prefix string) Action {
	return &change{
		desc: Descriptor{
			Name:            "fix",
			Label:           prefix + "fix",
			AllowedTypes:    []string{"Bug"},
			ConsumesContext: true,
			MutatesRepo:     true,
			Profile:         executor.ProfileReadWrite,
			Prompt:          "fix",
			ResultHeader:    HeaderFix,
		},
		inputs:       []chainInput{chainInvestigation, chainRecommendation},
		branchPrefix: "fix-",
		commitPrefix: "fix: ",
		prBody:       fixPRBody,
	}
}

func newImplement(prefix string) Action {
	return &change{
		desc: Descriptor{
			Name:            "implement",
			Label:           prefix + "implement",
			AllowedTypes:    []string{"Story"},
			ConsumesContext: true,
			MutatesRepo:     true,
			Profile:         executor.ProfileReadWrite,
			Prompt:          "implement",
			ResultHeader:    HeaderImplementation,
		},
		inputs:       []chainInput{chainApproach},
		branchPrefix: "feature-",
		commitPrefix: "feat: ",
		checkInvalid: true,
		prBody:       implementPRBody,
	}
}
