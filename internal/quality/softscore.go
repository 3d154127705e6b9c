package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/oychao1988/content-pipeline/internal/llm"
)

// ScoreWeights weights the four rubric dimensions into a single score
// (spec.md §4.6 defaults).
type ScoreWeights struct {
	Relevance    float64
	Coherence    float64
	Completeness float64
	Readability  float64
}

// DefaultScoreWeights is the spec's default weighting.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Relevance: 0.3, Coherence: 0.3, Completeness: 0.2, Readability: 0.2}
}

// neutralScore is substituted when the model's response cannot be parsed
// as JSON, per spec.md §4.6: "this is safer than blocking."
const neutralScore = 7.0

type rubricScores struct {
	Relevance    float64  `json:"relevance"`
	Coherence    float64  `json:"coherence"`
	Completeness float64  `json:"completeness"`
	Readability  float64  `json:"readability"`
	Suggestions  []string `json:"suggestions"`
}

// SoftScoreResult is the outcome of the LLM-scored rubric pass.
type SoftScoreResult struct {
	Score       float64
	Suggestions []string
	Parsed      bool
}

// EvaluateSoftScore invokes model with the artifact, the requirements, and
// a rubric, and returns a weighted score plus improvement suggestions.
func EvaluateSoftScore(ctx context.Context, model llm.ChatModel, artifact, requirements string, weights ScoreWeights) (SoftScoreResult, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: rubricSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Requirements:\n%s\n\nArtifact:\n%s\n\nReturn only the JSON object described above.",
			requirements, artifact)},
	}

	out, err := model.Chat(ctx, messages, nil)
	if err != nil {
		return SoftScoreResult{}, err
	}

	scores, parsed := parseRubricResponse(out.Text)
	if !parsed {
		return SoftScoreResult{Score: neutralScore, Parsed: false}, nil
	}

	weighted := scores.Relevance*weights.Relevance +
		scores.Coherence*weights.Coherence +
		scores.Completeness*weights.Completeness +
		scores.Readability*weights.Readability

	return SoftScoreResult{Score: weighted, Suggestions: scores.Suggestions, Parsed: true}, nil
}

const rubricSystemPrompt = `You are a content quality reviewer. Score the artifact against the requirements on four dimensions, each 0-10:
- relevance: how well the content addresses the stated requirements
- coherence: logical flow and internal consistency
- completeness: whether all required aspects are covered
- readability: clarity and prose quality

Respond with strict JSON only, no prose, no code fences:
{"relevance": <0-10>, "coherence": <0-10>, "completeness": <0-10>, "readability": <0-10>, "suggestions": ["..."]}`

// parseRubricResponse extracts a rubricScores from the model's raw text,
// stripping code fences and repairing malformed JSON before giving up.
func parseRubricResponse(raw string) (rubricScores, bool) {
	candidate := stripCodeFences(raw)

	var scores rubricScores
	if err := json.Unmarshal([]byte(candidate), &scores); err == nil {
		return scores, true
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return rubricScores{}, false
	}
	if err := json.Unmarshal([]byte(repaired), &scores); err != nil {
		return rubricScores{}, false
	}
	return scores, true
}

func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
