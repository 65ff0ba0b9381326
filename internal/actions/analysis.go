package actions

import (
	"context"

	"github.com/alekspetrov/alm/internal/adapters/jira"
	"github.com/alekspetrov/alm/internal/executor"
)

// analysis runs a read-only agent over a fresh checkout and publishes what
// it wrote. investigate, impact and recommend differ only in descriptor and
// chained inputs.
type analysis struct {
	desc   Descriptor
	inputs []chainInput
}

func (a *analysis) Descriptor() Descriptor { return a.desc }

func (a *analysis) Execute(ctx context.Context, issue *jira.Issue, deps *Deps) (Outcome, error) {
	if out, ok, err := checkType(ctx, issue, deps, a.desc); !ok {
		return out, err
	}

	data := issueData(issue)
	prior, err := priorAnalysis(ctx, issue, deps, a.inputs)
	if err != nil {
		return Outcome{}, err
	}
	data.PriorAnalysis = prior

	dir, err := deps.Repo.Clone(ctx, "")
	if err != nil {
		return Outcome{}, fail(KindRepository, "clone", err)
	}
	defer deps.Repo.Cleanup(dir)

	content, cost, err := runAgent(ctx, deps, a.desc, dir, data)
	if err != nil {
		return Outcome{}, err
	}
	return publish(ctx, issue, deps, a.desc, a.desc.ResultHeader, content, cost)
}

func newInvestigate(prefix string) Action {
	return &analysis{desc: Descriptor{
		Name:         "investigate",
		Label:        prefix + "investigate",
		Profile:      executor.ProfileReadOnly,
		Prompt:       "investigate",
		ResultHeader: HeaderInvestigation,
	}}
}

func newImpact(prefix string) Action {
	return &analysis{desc: Descriptor{
		Name:         "impact",
		Label:        prefix + "impact",
		AllowedTypes: []string{"Bug", "Story"},
		Profile:      executor.ProfileReadOnly,
		Prompt:       "impact",
		ResultHeader: HeaderImpact,
	}}
}

func newRecommend(prefix string) Action {
	return &analysis{
		desc: Descriptor{
			Name:            "recommend",
			Label:           prefix + "recommend",
			ConsumesContext: true,
			Profile:         executor.ProfileReadOnly,
			Prompt:          "recommend",
			ResultHeader:    HeaderRecommendation,
		},
		inputs: []chainInput{chainInvestigation},
	}
}
