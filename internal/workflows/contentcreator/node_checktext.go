package contentcreator

import (
	"context"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/quality"
	"github.com/oychao1988/content-pipeline/internal/task"
)

func checkTextNode(deps Deps) engine.NodeFunc[*State] {
	gate := quality.NewGate(deps.Model, quality.HardRuleConfig{})

	return engine.NodeFunc[*State]{
		NodeName: "checkText",
		Validate: func(_ context.Context, s *State) error {
			if s.ArticleContent == "" {
				return errkind.New(errkind.Validation, "checkText requires non-empty articleContent")
			}
			return nil
		},
		Execute: func(ctx context.Context, s *State) (*State, error) {
			g := *gate
			g.HardRules = hardRuleConfig(s.HardConstraints)

			decision, err := g.Evaluate(ctx, s.ArticleContent, s.Requirements)
			if err != nil {
				return nil, err
			}
			report := newQualityReport("text", decision)

			next := *s
			next.TextQualityReport = &report
			next.QualityReports = append(append([]task.QualityReport{}, s.QualityReports...), report)
			if !decision.Passed {
				next.PreviousContent = s.ArticleContent
			} else {
				next.PreviousContent = ""
			}
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 1},
	}
}
