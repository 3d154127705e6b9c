package contentcreator

import (
	"context"
	"fmt"
	"strings"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/llm"
)

func writeNode(deps Deps) engine.NodeFunc[*State] {
	return engine.NodeFunc[*State]{
		NodeName: "write",
		Validate: func(_ context.Context, s *State) error {
			if s.OrganizedInfo == "" {
				return errkind.New(errkind.Validation, "write requires organized search info")
			}
			return nil
		},
		Execute: func(ctx context.Context, s *State) (*State, error) {
			isRewrite := s.PreviousContent != ""

			var user strings.Builder
			fmt.Fprintf(&user, "Topic: %s\nRequirements: %s\n\nBriefing:\n%s\n", s.Topic, s.Requirements, s.OrganizedInfo)
			if c := s.HardConstraints; c.MinWords > 0 || c.MaxWords > 0 {
				fmt.Fprintf(&user, "\nTarget length: %d-%d words.", c.MinWords, c.MaxWords)
			}
			if len(s.HardConstraints.Keywords) > 0 {
				fmt.Fprintf(&user, "\nMust include these keywords verbatim: %s.", strings.Join(s.HardConstraints.Keywords, ", "))
			}

			if isRewrite {
				fmt.Fprintf(&user, "\n\nPrevious draft:\n%s\n", s.PreviousContent)
				if s.TextQualityReport != nil && len(s.TextQualityReport.FixSuggestions) > 0 {
					fmt.Fprintf(&user, "\nRevise to address:\n- %s", strings.Join(s.TextQualityReport.FixSuggestions, "\n- "))
				}
			}

			messages := []llm.Message{
				{Role: llm.RoleSystem, Content: "You write complete, well-structured articles in Markdown with a level-1 heading and a clear conclusion."},
				{Role: llm.RoleUser, Content: user.String()},
			}
			out, err := deps.Model.Chat(ctx, messages, nil)
			if err != nil {
				return nil, err
			}

			next := *s
			next.ArticleContent = out.Text
			if isRewrite {
				next.TextRetryCount = s.TextRetryCount + 1
			}
			// The draft just produced supersedes the feedback that drove this
			// rewrite; checkText repopulates PreviousContent on the next
			// failure, if any.
			next.PreviousContent = ""
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 2},
	}
}
