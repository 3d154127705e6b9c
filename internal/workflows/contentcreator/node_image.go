package contentcreator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/imagesvc"
	"github.com/oychao1988/content-pipeline/internal/task"
)

func generateImageNode(deps Deps) engine.NodeFunc[*State] {
	return engine.NodeFunc[*State]{
		NodeName: "generateImage",
		Validate: func(_ context.Context, s *State) error {
			if s.ArticleContent == "" {
				return errkind.New(errkind.Validation, "generateImage requires articleContent")
			}
			return nil
		},
		Execute: func(ctx context.Context, s *State) (*State, error) {
			isRetry := s.ImageQualityReport != nil && !s.ImageQualityReport.Passed

			var prompt strings.Builder
			fmt.Fprintf(&prompt, "Illustration for an article about %s.", s.Topic)
			if s.Requirements != "" {
				fmt.Fprintf(&prompt, " Requirements: %s.", s.Requirements)
			}
			if isRetry && len(s.ImageQualityReport.FixSuggestions) > 0 {
				fmt.Fprintf(&prompt, " Address: %s.", strings.Join(s.ImageQualityReport.FixSuggestions, "; "))
			}

			size := s.ImageSize
			if size == "" {
				size = DefaultImageSize
			}

			images, err := deps.Images.Generate(ctx, prompt.String(), size, deps.imageCount())
			if err != nil {
				return nil, err
			}

			next := *s
			next.Images = images
			if isRetry {
				next.ImageRetryCount = s.ImageRetryCount + 1
			}
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 2},
	}
}

// checkImageNode evaluates every generated image independently, bounded by
// deps.imageConcurrency() concurrent evaluations (spec.md §4.6). A single
// image's evaluation failing degrades that image to a neutral score rather
// than failing the whole node — the other images still get their real
// verdicts (spec.md §9, "accept-and-proceed" applies per image too).
func checkImageNode(deps Deps) engine.NodeFunc[*State] {
	return engine.NodeFunc[*State]{
		NodeName: "checkImage",
		Validate: func(_ context.Context, s *State) error {
			if len(s.Images) == 0 {
				return errkind.New(errkind.Validation, "checkImage requires at least one generated image")
			}
			return nil
		},
		Execute: func(ctx context.Context, s *State) (*State, error) {
			evaluations := evaluateImages(ctx, deps, s.Images, s.Requirements)

			score, passed, suggestions := summarizeImageEvaluations(evaluations)
			report := task.QualityReport{
				Phase:     "image",
				Score:     score,
				Passed:    passed,
				Details:   map[string]any{"imageCount": len(s.Images)},
				CheckedAt: time.Now(),
			}
			report.FixSuggestions = suggestions
			report.HardConstraintsPassed = true

			next := *s
			next.ImageQualityReport = &report
			next.QualityReports = append(append([]task.QualityReport{}, s.QualityReports...), report)
			return &next, nil
		},
		Pol: engine.NodePolicy{RetryCount: 1},
	}
}

// evaluateImages fans evaluation calls out across a bounded worker pool and
// returns results in the same order as images, one slot per image.
func evaluateImages(ctx context.Context, deps Deps, images []imagesvc.Image, requirements string) []imagesvc.Evaluation {
	out := make([]imagesvc.Evaluation, len(images))
	sem := make(chan struct{}, deps.imageConcurrency())
	var wg sync.WaitGroup

	for i, img := range images {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, image imagesvc.Image) {
			defer wg.Done()
			defer func() { <-sem }()

			eval, err := deps.Images.Evaluate(ctx, image, requirements)
			if err != nil {
				// A failed evaluation degrades to a neutral verdict instead
				// of failing checkImage; the other images are unaffected.
				out[idx] = imagesvc.Evaluation{Score: 5, Passed: true}
				return
			}
			out[idx] = eval
		}(i, img)
	}
	wg.Wait()
	return out
}

func summarizeImageEvaluations(evaluations []imagesvc.Evaluation) (score float64, passed bool, suggestions []string) {
	if len(evaluations) == 0 {
		return 0, false, nil
	}
	passed = true
	var total float64
	for _, e := range evaluations {
		total += e.Score
		if !e.Passed {
			passed = false
		}
		suggestions = append(suggestions, e.Suggestions...)
	}
	return total / float64(len(evaluations)), passed, suggestions
}
