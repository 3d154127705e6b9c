package quality

import (
	"context"

	"github.com/oychao1988/content-pipeline/internal/llm"
)

// Decision is the gate's verdict for one artifact (spec.md §4.6):
// {passed, score, hardConstraintsPassed, suggestions, details}.
type Decision struct {
	Passed                bool
	Score                 float64
	HardConstraintsPassed bool
	Suggestions           []string
	Details               map[string]any
}

// Threshold is the minimum weighted soft score required to pass, applied
// only once hard rules have passed (spec.md §4.6 default 7.0).
const Threshold = 7.0

// Gate evaluates one artifact against hard rules and an LLM-scored rubric.
type Gate struct {
	Model        llm.ChatModel
	HardRules    HardRuleConfig
	Weights      ScoreWeights
	ScoreMinimum float64
}

// NewGate builds a Gate with the spec's default weights and threshold.
func NewGate(model llm.ChatModel, rules HardRuleConfig) *Gate {
	return &Gate{Model: model, HardRules: rules, Weights: DefaultScoreWeights(), ScoreMinimum: Threshold}
}

// Evaluate runs both phases and synthesizes feedback on failure. Any
// hard-rule failure forces passed=false regardless of the soft score
// (spec.md §4.6); a soft-score evaluation error is returned rather than
// silently defaulted, since the caller (the node runtime) already owns
// retry/timeout policy for external-collaborator failures.
func (g *Gate) Evaluate(ctx context.Context, artifact, requirements string) (Decision, error) {
	hardResults, hardPassed := CheckHardRules(artifact, g.HardRules)

	soft, err := EvaluateSoftScore(ctx, g.Model, artifact, requirements, g.Weights)
	if err != nil {
		return Decision{}, err
	}

	minimum := g.ScoreMinimum
	if minimum == 0 {
		minimum = Threshold
	}
	softPassed := soft.Score >= minimum

	passed := hardPassed && softPassed

	details := map[string]any{
		"hardRules":  hardResults,
		"softScore":  soft.Score,
		"softParsed": soft.Parsed,
	}

	var suggestions []string
	if !passed {
		suggestions = synthesizeFeedback(hardResults, g.HardRules, WordCount(artifact), soft.Suggestions)
	}

	return Decision{
		Passed:                passed,
		Score:                 soft.Score,
		HardConstraintsPassed: hardPassed,
		Suggestions:           suggestions,
		Details:               details,
	}, nil
}
