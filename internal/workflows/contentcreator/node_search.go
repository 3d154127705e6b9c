package contentcreator

import (
	"context"
	"fmt"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/llm"
)

func searchNode(deps Deps) engine.NodeFunc[*State] {
	return engine.NodeFunc[*State]{
		NodeName: "search",
		Validate: func(_ context.Context, s *State) error {
			if s.Topic == "" {
				return errkind.New(errkind.Validation, "search requires a non-empty topic")
			}
			return nil
		},
		Execute: func(ctx context.Context, s *State) (*State, error) {
			results, err := deps.Search.Search(ctx, s.Topic, 5)
			if err != nil {
				return nil, err
			}
			next := *s
			next.SearchResults = results
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 2},
	}
}

func organizeNode(deps Deps) engine.NodeFunc[*State] {
	return engine.NodeFunc[*State]{
		NodeName: "organize",
		Execute: func(ctx context.Context, s *State) (*State, error) {
			var sb []byte
			for i, r := range s.SearchResults {
				sb = append(sb, []byte(fmt.Sprintf("%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet))...)
			}
			messages := []llm.Message{
				{Role: llm.RoleSystem, Content: "You synthesize web search results into a concise briefing an article writer can work from. Output plain prose, no preamble."},
				{Role: llm.RoleUser, Content: fmt.Sprintf("Topic: %s\n\nSearch results:\n%s", s.Topic, string(sb))},
			}
			out, err := deps.Model.Chat(ctx, messages, nil)
			if err != nil {
				return nil, err
			}
			next := *s
			next.OrganizedInfo = out.Text
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 2},
	}
}
