package translation

import (
	"context"
	"fmt"
	"strings"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/llm"
)

func translateNode(deps Deps) engine.NodeFunc[*State] {
	return engine.NodeFunc[*State]{
		NodeName: "translate",
		Validate: func(_ context.Context, s *State) error {
			if s.SourceText == "" {
				return errkind.New(errkind.Validation, "translate requires non-empty sourceText")
			}
			if s.TargetLang == "" {
				return errkind.New(errkind.Validation, "translate requires a targetLang")
			}
			return nil
		},
		Execute: func(ctx context.Context, s *State) (*State, error) {
			isRetry := s.PreviousTranslation != ""

			var user strings.Builder
			fmt.Fprintf(&user, "Translate the following text from %s to %s.", orDefault(s.SourceLang, "the source language"), s.TargetLang)
			if s.Requirements != "" {
				fmt.Fprintf(&user, " Requirements: %s.", s.Requirements)
			}
			if len(s.HardConstraints.PreservedTerms) > 0 {
				fmt.Fprintf(&user, " Preserve these terms verbatim: %s.", strings.Join(s.HardConstraints.PreservedTerms, ", "))
			}
			fmt.Fprintf(&user, "\n\nText:\n%s\n", s.SourceText)

			if isRetry {
				fmt.Fprintf(&user, "\nPrevious translation:\n%s\n", s.PreviousTranslation)
				if s.QualityReport != nil && len(s.QualityReport.FixSuggestions) > 0 {
					fmt.Fprintf(&user, "\nRevise to address:\n- %s", strings.Join(s.QualityReport.FixSuggestions, "\n- "))
				}
			}

			messages := []llm.Message{
				{Role: llm.RoleSystem, Content: "You are a professional translator. Output only the translated text, no commentary."},
				{Role: llm.RoleUser, Content: user.String()},
			}
			out, err := deps.Model.Chat(ctx, messages, nil)
			if err != nil {
				return nil, err
			}

			next := *s
			next.TranslatedText = out.Text
			if isRetry {
				next.RetryCount = s.RetryCount + 1
			}
			// The translation just produced supersedes the feedback that
			// drove this rewrite; checkQuality repopulates PreviousTranslation
			// on the next failure, if any.
			next.PreviousTranslation = ""
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 2},
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
