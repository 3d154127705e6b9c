package translation

import (
	"context"
	"time"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/quality"
	"github.com/oychao1988/content-pipeline/internal/task"
)

func checkQualityNode(deps Deps) engine.NodeFunc[*State] {
	gate := quality.NewGate(deps.Model, quality.HardRuleConfig{})

	return engine.NodeFunc[*State]{
		NodeName: "checkQuality",
		Validate: func(_ context.Context, s *State) error {
			if s.TranslatedText == "" {
				return errkind.New(errkind.Validation, "checkQuality requires non-empty translatedText")
			}
			return nil
		},
		Execute: func(ctx context.Context, s *State) (*State, error) {
			g := *gate
			g.HardRules = hardRuleConfig(s.HardConstraints)

			decision, err := g.Evaluate(ctx, s.TranslatedText, s.Requirements)
			if err != nil {
				return nil, err
			}
			report := newQualityReport("translation", decision)

			next := *s
			next.QualityReport = &report
			next.QualityReports = append(append([]task.QualityReport{}, s.QualityReports...), report)
			if !decision.Passed {
				next.PreviousTranslation = s.TranslatedText
			} else {
				next.PreviousTranslation = ""
			}
			// Results always reflects the current translation, whichever
			// attempt this is; the last call before the graph terminates
			// (passed, or the retry budget ran out) is the one that sticks.
			next.Results = []task.Result{{
				ResultType: "translation",
				Content:    s.TranslatedText,
				CreatedAt:  time.Now(),
			}}
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 1},
	}
}
