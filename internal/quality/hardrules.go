// Package quality implements the Quality Gate (spec.md §4.6): pure-function
// hard-rule validators, an LLM-scored soft rubric, and deterministic
// feedback synthesis. Grounded on the teacher's node-validation style
// (graph/node.go's ValidateState contract) generalized from a single
// boolean precondition into a multi-rule report.
package quality

import (
	"strconv"
	"strings"
)

// HardRuleResult is the atomic outcome of one hard-rule check.
type HardRuleResult struct {
	Rule    string `json:"rule"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// HardRuleConfig parameterizes the hard-rule checks for one artifact
// phase (spec.md §4.6).
type HardRuleConfig struct {
	MinWords          int
	MaxWords          int
	RequiredKeywords  []string
	ForbiddenWords    []string
	RequireStructure  bool
	ConclusionMarkers []string
	MinSections       int
}

// CheckHardRules runs every configured rule against content and returns one
// result per rule that was actually configured, plus whether all rules
// passed.
func CheckHardRules(content string, cfg HardRuleConfig) ([]HardRuleResult, bool) {
	var results []HardRuleResult

	if cfg.MinWords > 0 || cfg.MaxWords > 0 {
		results = append(results, checkLength(content, cfg.MinWords, cfg.MaxWords))
	}
	if len(cfg.RequiredKeywords) > 0 {
		results = append(results, checkRequiredKeywords(content, cfg.RequiredKeywords))
	}
	if len(cfg.ForbiddenWords) > 0 {
		results = append(results, checkForbiddenWords(content, cfg.ForbiddenWords))
	}
	if cfg.RequireStructure {
		results = append(results, checkStructure(content, cfg.ConclusionMarkers, cfg.MinSections))
	}

	allPassed := true
	for _, r := range results {
		if !r.Passed {
			allPassed = false
			break
		}
	}
	return results, allPassed
}

// WordCount splits content on whitespace and counts non-empty tokens.
func WordCount(content string) int {
	return len(strings.Fields(content))
}

func checkLength(content string, minWords, maxWords int) HardRuleResult {
	count := WordCount(content)
	if minWords > 0 && count < minWords {
		return HardRuleResult{Rule: "length", Passed: false,
			Message: "word count " + strconv.Itoa(count) + " below minimum " + strconv.Itoa(minWords)}
	}
	if maxWords > 0 && count > maxWords {
		return HardRuleResult{Rule: "length", Passed: false,
			Message: "word count " + strconv.Itoa(count) + " above maximum " + strconv.Itoa(maxWords)}
	}
	return HardRuleResult{Rule: "length", Passed: true, Message: "word count within range"}
}

func checkRequiredKeywords(content string, keywords []string) HardRuleResult {
	var missing []string
	for _, kw := range keywords {
		if !strings.Contains(content, kw) {
			missing = append(missing, kw)
		}
	}
	if len(missing) > 0 {
		return HardRuleResult{Rule: "requiredKeywords", Passed: false,
			Message: "missing required keywords: " + strings.Join(missing, ", ")}
	}
	return HardRuleResult{Rule: "requiredKeywords", Passed: true, Message: "all required keywords present"}
}

func checkForbiddenWords(content string, forbidden []string) HardRuleResult {
	var found []string
	for _, w := range forbidden {
		if strings.Contains(content, w) {
			found = append(found, w)
		}
	}
	if len(found) > 0 {
		return HardRuleResult{Rule: "forbiddenWords", Passed: false,
			Message: "forbidden words present: " + strings.Join(found, ", ")}
	}
	return HardRuleResult{Rule: "forbiddenWords", Passed: true, Message: "no forbidden words present"}
}

func checkStructure(content string, conclusionMarkers []string, minSections int) HardRuleResult {
	var issues []string

	if !strings.Contains(content, "\n# ") && !strings.HasPrefix(content, "# ") {
		issues = append(issues, "missing level-1 heading")
	}

	hasConclusion := false
	for _, marker := range conclusionMarkers {
		if strings.Contains(content, marker) {
			hasConclusion = true
			break
		}
	}
	if !hasConclusion && len(conclusionMarkers) > 0 {
		issues = append(issues, "missing conclusion marker")
	}

	sections := countParagraphs(content)
	if minSections > 0 && sections < minSections {
		issues = append(issues, "insufficient sections: have "+strconv.Itoa(sections)+", need "+strconv.Itoa(minSections))
	}

	if len(issues) > 0 {
		return HardRuleResult{Rule: "structure", Passed: false, Message: strings.Join(issues, "; ")}
	}
	return HardRuleResult{Rule: "structure", Passed: true, Message: "structure requirements met"}
}

func countParagraphs(content string) int {
	blocks := strings.Split(strings.TrimSpace(content), "\n\n")
	count := 0
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			count++
		}
	}
	return count
}
