package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckHardRulesAllPass(t *testing.T) {
	content := "# Title\n\nThis is a solid paragraph about golang with enough words to pass the minimum threshold comfortably.\n\nIn conclusion, this wraps it up nicely."
	cfg := HardRuleConfig{
		MinWords:          5,
		MaxWords:          1000,
		RequiredKeywords:  []string{"golang"},
		ForbiddenWords:    []string{"banned"},
		RequireStructure:  true,
		ConclusionMarkers: []string{"In conclusion"},
		MinSections:       2,
	}

	results, passed := CheckHardRules(content, cfg)
	assert.True(t, passed)
	assert.Len(t, results, 4)
}

func TestCheckHardRulesLengthFailure(t *testing.T) {
	results, passed := CheckHardRules("too short", HardRuleConfig{MinWords: 50})
	assert.False(t, passed)
	assert.False(t, results[0].Passed)
}

func TestCheckHardRulesMissingKeyword(t *testing.T) {
	results, passed := CheckHardRules("some content here", HardRuleConfig{RequiredKeywords: []string{"golang", "concurrency"}})
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "golang")
	assert.Contains(t, results[0].Message, "concurrency")
}

func TestCheckHardRulesForbiddenWordFails(t *testing.T) {
	results, passed := CheckHardRules("this contains a banned phrase", HardRuleConfig{ForbiddenWords: []string{"banned"}})
	assert.False(t, passed)
	assert.False(t, results[0].Passed)
}

func TestCheckHardRulesStructureMissingHeadingAndConclusion(t *testing.T) {
	results, passed := CheckHardRules("just one paragraph with no heading", HardRuleConfig{
		RequireStructure:  true,
		ConclusionMarkers: []string{"In conclusion"},
		MinSections:       2,
	})
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "missing level-1 heading")
	assert.Contains(t, results[0].Message, "missing conclusion marker")
}

func TestCheckHardRulesNoRulesConfiguredPasses(t *testing.T) {
	results, passed := CheckHardRules("anything", HardRuleConfig{})
	assert.True(t, passed)
	assert.Empty(t, results)
}
