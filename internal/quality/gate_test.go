package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/llm"
)

func TestGateEvaluatePassesWhenHardRulesAndScoreClearThreshold(t *testing.T) {
	model := &llm.MockChatModel{Responses: []llm.ChatOut{{
		Text: `{"relevance":9,"coherence":9,"completeness":9,"readability":9,"suggestions":[]}`,
	}}}
	gate := NewGate(model, HardRuleConfig{MinWords: 3})

	decision, err := gate.Evaluate(context.Background(), "a perfectly fine article body", "write about golang")
	require.NoError(t, err)
	assert.True(t, decision.Passed)
	assert.True(t, decision.HardConstraintsPassed)
	assert.InDelta(t, 9.0, decision.Score, 0.01)
	assert.Empty(t, decision.Suggestions)
}

func TestGateEvaluateFailsOnHardRuleRegardlessOfScore(t *testing.T) {
	model := &llm.MockChatModel{Responses: []llm.ChatOut{{
		Text: `{"relevance":10,"coherence":10,"completeness":10,"readability":10}`,
	}}}
	gate := NewGate(model, HardRuleConfig{MinWords: 100})

	decision, err := gate.Evaluate(context.Background(), "too short", "requirements")
	require.NoError(t, err)
	assert.False(t, decision.Passed)
	assert.False(t, decision.HardConstraintsPassed)
	assert.NotEmpty(t, decision.Suggestions)
}

func TestGateEvaluateFailsBelowScoreThreshold(t *testing.T) {
	model := &llm.MockChatModel{Responses: []llm.ChatOut{{
		Text: `{"relevance":5,"coherence":5,"completeness":5,"readability":5}`,
	}}}
	gate := NewGate(model, HardRuleConfig{})

	decision, err := gate.Evaluate(context.Background(), "anything at all", "requirements")
	require.NoError(t, err)
	assert.True(t, decision.HardConstraintsPassed)
	assert.False(t, decision.Passed)
	assert.InDelta(t, 5.0, decision.Score, 0.01)
}

func TestGateEvaluateFallsBackToNeutralScoreOnUnparsableResponse(t *testing.T) {
	model := &llm.MockChatModel{Responses: []llm.ChatOut{{Text: "not json at all, sorry"}}}
	gate := NewGate(model, HardRuleConfig{})

	decision, err := gate.Evaluate(context.Background(), "anything at all", "requirements")
	require.NoError(t, err)
	assert.InDelta(t, neutralScore, decision.Score, 0.01)
	assert.True(t, decision.Passed)
}

func TestGateEvaluateHandlesCodeFencedResponse(t *testing.T) {
	model := &llm.MockChatModel{Responses: []llm.ChatOut{{
		Text: "```json\n{\"relevance\":8,\"coherence\":8,\"completeness\":8,\"readability\":8}\n```",
	}}}
	gate := NewGate(model, HardRuleConfig{})

	decision, err := gate.Evaluate(context.Background(), "content", "requirements")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, decision.Score, 0.01)
	assert.True(t, decision.Passed)
}

func TestSynthesizeFeedbackDeduplicatesAndTiersLengthGuidance(t *testing.T) {
	hardResults := []HardRuleResult{
		{Rule: "length", Passed: false, Message: "word count 40 below minimum 100"},
		{Rule: "requiredKeywords", Passed: false, Message: "missing required keywords: golang, concurrency"},
	}
	cfg := HardRuleConfig{MinWords: 100, MaxWords: 200}

	suggestions := synthesizeFeedback(hardResults, cfg, 40, []string{"add more examples", "add more examples"})

	assert.Len(t, suggestions, 3)
	assert.Contains(t, suggestions[0], "revision needed")
	assert.Contains(t, suggestions[1], "golang")
	assert.Equal(t, "add more examples", suggestions[2])
}
