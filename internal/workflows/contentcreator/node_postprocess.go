package contentcreator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// postProcessNode assembles the article and its images into the final
// deliverable and the task's Result rows. It has no outgoing edge in the
// factory's edge set, so the engine routes it Terminal (spec.md §4.3).
func postProcessNode(_ Deps) engine.NodeFunc[*State] {
	return engine.NodeFunc[*State]{
		NodeName: "postProcess",
		Validate: func(_ context.Context, s *State) error {
			if s.ArticleContent == "" {
				return errkind.New(errkind.Validation, "postProcess requires articleContent")
			}
			return nil
		},
		Execute: func(_ context.Context, s *State) (*State, error) {
			var final strings.Builder
			final.WriteString(s.ArticleContent)
			for i, img := range s.Images {
				fmt.Fprintf(&final, "\n\n![figure %d](%s)", i+1, img.URL)
			}

			now := time.Now()
			results := append([]task.Result{}, s.Results...)
			results = append(results, task.Result{
				ResultType: "article",
				Content:    s.ArticleContent,
				CreatedAt:  now,
			})
			for i, img := range s.Images {
				results = append(results, task.Result{
					ResultType: "image",
					Reference:  img.URL,
					Metadata:   map[string]any{"index": i, "width": img.Width, "height": img.Height},
					CreatedAt:  now,
				})
			}
			results = append(results, task.Result{
				ResultType: "finalArticle",
				Content:    final.String(),
				CreatedAt:  now,
			})

			next := *s
			next.FinalArticleContent = final.String()
			next.Results = results
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 0},
	}
}
