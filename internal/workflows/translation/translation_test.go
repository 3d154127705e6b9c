package translation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/llm"
)

const passingRubric = `{"relevance": 9, "coherence": 9, "completeness": 9, "readability": 9, "suggestions": []}`
const failingRubric = `{"relevance": 3, "coherence": 3, "completeness": 3, "readability": 3, "suggestions": ["preserve the proper noun"]}`

func runGraph(t *testing.T, deps Deps, params Params) map[string]any {
	t.Helper()
	f := Factory{Deps: deps}

	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)
	require.NoError(t, f.ValidateParams(paramsJSON))

	initial, err := f.CreateState(paramsJSON)
	require.NoError(t, err)

	g, err := f.CreateGraph()
	require.NoError(t, err)

	finalJSON, err := g.Run(context.Background(), "task-1", initial, "")
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(finalJSON, &out))
	return out
}

func TestTranslationHappyPathCompletes(t *testing.T) {
	deps := Deps{Model: &llm.MockChatModel{Responses: []llm.ChatOut{
		{Text: "Bonjour le monde"}, // translate
		{Text: passingRubric},     // checkQuality
	}}}

	final := runGraph(t, deps, Params{
		SourceText: "Hello world",
		SourceLang: "en",
		TargetLang: "fr",
	})

	assert.Equal(t, "checkQuality", final["currentStep"])
	assert.Equal(t, "Bonjour le monde", final["translatedText"])

	report := final["qualityReport"].(map[string]any)
	assert.Equal(t, true, report["passed"])

	results := final["results"].([]any)
	require.Len(t, results, 1)
}

func TestTranslationRetriesThenAcceptsAndProceeds(t *testing.T) {
	deps := Deps{
		Model: &llm.MockChatModel{Responses: []llm.ChatOut{
			{Text: "attempt 1"}, // translate
			{Text: failingRubric},
			{Text: "attempt 2"}, // translate retry 1
			{Text: failingRubric},
			{Text: "attempt 3"}, // translate retry 2, budget exhausted afterward
			{Text: failingRubric},
		}},
		RetryBudget: 2,
	}

	final := runGraph(t, deps, Params{SourceText: "Hello", TargetLang: "fr"})

	assert.Equal(t, float64(2), final["retryCount"])
	report := final["qualityReport"].(map[string]any)
	assert.Equal(t, false, report["passed"])
	assert.Equal(t, "attempt 3", final["translatedText"])
}
