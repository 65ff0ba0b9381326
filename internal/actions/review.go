package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/executor"
)

// review runs a read-only agent over a pull request's head branch and posts
// the review on the pull request.
type review struct {
	desc       Descriptor
	prHeader   string
	failHeader string
}

func (r *review) Descriptor() Descriptor { return r.desc }

func (r *review) Execute(ctx context.Context, issue *jira.Issue, deps *Deps) (Outcome, error) {
	if out, ok, err := checkType(ctx, issue, deps, r.desc); !ok {
		return out, err
	}
	log := deps.logger(ctx)

	comments, err := deps.Tracker.GetComments(ctx, issue.Key)
	if err != nil {
		return Outcome{}, fail(KindTracker, "get comments", err)
	}
	texts := make([]string, 0, len(comments)+1)
	texts = append(texts, issue.Fields.Description)
	for _, c := range comments {
		texts = append(texts, c.Body)
	}

	number, ok := FindPRInTexts(texts...)
	if !ok {
		log.Info("No pull request reference found")
		if err := postNotice(ctx, issue, deps, r.desc, r.failHeader,
			"Could not find PR number in issue description or comments. Please include the PR URL or number."); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: StatusRejected, Summary: fmt.Sprintf("no pull request found for %s", issue.Key)}, nil
	}
	log = log.With(slog.Int("pr", number))

	info, err := deps.Repo.GetPRInfo(ctx, number)
	if err != nil {
		return Outcome{}, fail(KindRepository, "get pull request", err)
	}

	dir, err := deps.Repo.Clone(ctx, info.HeadBranch)
	if err != nil {
		return Outcome{}, fail(KindRepository, "clone", err)
	}
	defer deps.Repo.Cleanup(dir)

	data := issueData(issue)
	data.PRNumber = info.Number
	data.PRTitle = info.Title
	data.PRDescription = info.Body
	data.ChangedFiles = info.ChangedFiles

	content, cost, err := runAgent(ctx, deps, r.desc, dir, data)
	if err != nil {
		return Outcome{}, err
	}

	prComment := jira.FormatComment(r.prHeader, content)
	if v := deps.Gate.Validate(prComment); v.Blocked {
		log.Warn("Review withheld by safety gate", slog.String("reason", v.Reason))
		if err := postRaw(ctx, issue, deps, r.desc, blockedNotice(r.desc, v.Reason)); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Status:  StatusBlocked,
			Summary: fmt.Sprintf("review of PR #%d withheld: %s", number, v.Reason),
			Reason:  v.Reason,
			CostUSD: cost,
		}, nil
	}

	if err := deps.Repo.AddPRComment(ctx, number, prComment); err != nil {
		return Outcome{}, fail(KindRepository, "comment on pull request", err)
	}
	log.Info("Review posted")

	out, err := publish(ctx, issue, deps, r.desc, r.desc.ResultHeader, fmt.Sprintf("Review posted to PR #%d", number), cost)
	out.PRURL = info.HTMLURL
	return out, err
}

func newCodeReview(prefix string) Action {
	return &review{
		desc: Descriptor{
			Name:            "code-review",
			Label:           prefix + "code-review",
			ConsumesContext: true,
			Profile:         executor.ProfileReadOnly,
			Prompt:          "code_review",
			ResultHeader:    HeaderCodeReview,
		},
		prHeader:   "CODE REVIEW",
		failHeader: HeaderCodeReviewFail,
	}
}

func newSecurityReview(prefix string) Action {
	return &review{
		desc: Descriptor{
			Name:            "security-review",
			Label:           prefix + "security-review",
			ConsumesContext: true,
			Profile:         executor.ProfileReadOnly,
			Prompt:          "security_review",
			ResultHeader:    HeaderSecurityReview,
		},
		prHeader:   "SECURITY REVIEW",
		failHeader: HeaderSecReviewFail,
	}
}
