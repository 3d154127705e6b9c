package quality

import (
	"fmt"
	"strings"
)

// synthesizeFeedback builds the deterministic suggestion list that the
// writer node consumes on rewrite (spec.md §4.6): tiered length guidance,
// missing-keyword lists, structural-issue lists, then any LLM suggestions,
// de-duplicated.
func synthesizeFeedback(hardResults []HardRuleResult, cfg HardRuleConfig, wordCount int, llmSuggestions []string) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, r := range hardResults {
		if r.Passed {
			continue
		}
		switch r.Rule {
		case "length":
			add(lengthGuidance(wordCount, cfg.MinWords, cfg.MaxWords))
		case "requiredKeywords":
			add(missingKeywordSuggestion(r.Message))
		case "structure":
			add("fix structural issues: " + r.Message)
		case "forbiddenWords":
			add(r.Message)
		}
	}

	for _, s := range llmSuggestions {
		add(strings.TrimSpace(s))
	}

	return out
}

// lengthGuidance tiers the revision instruction by how far off-target the
// word count is: <=10% off is "small", <=25% is "medium", beyond that
// "heavy" (spec.md §4.6).
func lengthGuidance(wordCount, minWords, maxWords int) string {
	target := minWords
	if wordCount > maxWords && maxWords > 0 {
		target = maxWords
	}
	if target == 0 {
		return ""
	}

	diff := wordCount - target
	if diff < 0 {
		diff = -diff
	}
	pctOff := float64(diff) / float64(target) * 100

	tier := "heavy"
	switch {
	case pctOff <= 10:
		tier = "small"
	case pctOff <= 25:
		tier = "medium"
	}

	direction := "expand"
	if minWords > 0 && wordCount > maxWords {
		direction = "trim"
	}

	return fmt.Sprintf("%s revision needed: %s content to reach target length (currently %d words, %.0f%% off target)",
		tier, direction, wordCount, pctOff)
}

func missingKeywordSuggestion(ruleMessage string) string {
	idx := strings.Index(ruleMessage, ": ")
	if idx < 0 {
		return ruleMessage
	}
	return "add missing keywords: " + ruleMessage[idx+2:]
}
