package contentcreator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/imagesvc"
	"github.com/oychao1988/content-pipeline/internal/llm"
	"github.com/oychao1988/content-pipeline/internal/quality"
	"github.com/oychao1988/content-pipeline/internal/searchsvc"
)

const passingRubric = `{"relevance": 9, "coherence": 9, "completeness": 9, "readability": 9, "suggestions": []}`
const failingRubric = `{"relevance": 3, "coherence": 3, "completeness": 3, "readability": 3, "suggestions": ["add more detail"]}`

func goodArticle() string {
	return "# Concurrency in Go\n\n" +
		"Go makes concurrency approachable through goroutines and channels, " +
		"letting programs express concurrent pipelines without hand-rolled thread pools. " +
		"This article walks through the core primitives and when to reach for each one, " +
		"with enough detail for a newcomer to start writing correct concurrent Go today.\n\n" +
		"## Conclusion\n\nIn conclusion, Go's concurrency model rewards small, composable pieces."
}

func newTestDeps(t *testing.T, chatResponses []llm.ChatOut, images []imagesvc.Image) Deps {
	t.Helper()
	return Deps{
		Model:  &llm.MockChatModel{Responses: chatResponses},
		Search: &searchsvc.MockClient{Results: []searchsvc.Result{{Title: "Go concurrency", URL: "https://example.com/a", Snippet: "goroutines and channels"}}},
		Images: &imagesvc.MockClient{Images: images, Evaluation: imagesvc.Evaluation{Score: 8, Passed: true}},
	}
}

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

func TestContentCreatorHappyPathCompletesAllSteps(t *testing.T) {
	deps := newTestDeps(t, []llm.ChatOut{
		{Text: "Organized briefing about Go concurrency."}, // organize
		{Text: goodArticle()},                              // write
		{Text: passingRubric},                              // checkText
	}, []imagesvc.Image{{URL: "https://images.example/1.png", Width: 1920, Height: 1920}})

	final := runGraph(t, deps, Params{
		Topic:        "Go concurrency",
		Requirements: "cover goroutines and channels",
		HardConstraints: HardConstraints{
			MinWords: 20,
			MaxWords: 500,
			Keywords: []string{"goroutines", "channels"},
		},
	})

	assert.Equal(t, "postProcess", final["currentStep"])
	assert.NotEmpty(t, final["finalArticleContent"])

	textReport := final["textQualityReport"].(map[string]any)
	assert.Equal(t, true, textReport["passed"])

	results := final["results"].([]any)
	assert.GreaterOrEqual(t, len(results), 2)

	qualityReports := final["qualityReports"].([]any)
	assert.Len(t, qualityReports, 2) // one text + one image report
}

func TestContentCreatorRetriesTextThenAcceptsAndProceeds(t *testing.T) {
	deps := newTestDeps(t, []llm.ChatOut{
		{Text: "Organized briefing about Go concurrency."}, // organize
		{Text: "short draft"},                              // write (attempt 1)
		{Text: failingRubric},                              // checkText (attempt 1): fails
		{Text: "short draft revised"},                       // write (attempt 2)
		{Text: failingRubric},                              // checkText (attempt 2): fails
		{Text: "short draft revised again"},                 // write (attempt 3)
		{Text: failingRubric},                              // checkText (attempt 3): fails, budget exhausted
	}, []imagesvc.Image{{URL: "https://images.example/1.png"}})

	deps.TextRetryBudget = 2

	final := runGraph(t, deps, Params{
		Topic:           "Go concurrency",
		Requirements:    "cover goroutines",
		HardConstraints: HardConstraints{MinWords: 1},
	})

	assert.Equal(t, "postProcess", final["currentStep"])
	assert.Equal(t, float64(2), final["textRetryCount"])

	textReport := final["textQualityReport"].(map[string]any)
	assert.Equal(t, false, textReport["passed"])
}

func TestHardRuleConfigMapsAllFields(t *testing.T) {
	hc := HardConstraints{
		MinWords: 10, MaxWords: 100, Keywords: []string{"a"}, ForbiddenWords: []string{"b"},
		RequireStructure: true, ConclusionMarkers: []string{"Conclusion"}, MinSections: 2,
	}
	cfg := hardRuleConfig(hc)
	assert.Equal(t, quality.HardRuleConfig{
		MinWords: 10, MaxWords: 100, RequiredKeywords: []string{"a"}, ForbiddenWords: []string{"b"},
		RequireStructure: true, ConclusionMarkers: []string{"Conclusion"}, MinSections: 2,
	}, cfg)
}
