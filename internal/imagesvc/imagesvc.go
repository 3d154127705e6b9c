// Package imagesvc treats the image generation provider as an opaque RPC
// endpoint (spec.md §1). Grounded on the same HTTPTool shape as searchsvc
// (graph/tool/http.go), with a second call (Evaluate) standing in for the
// image quality-check collaborator the content-creator workflow's
// checkImage node invokes (spec.md §9: "CheckImage never triggers
// generation" — Evaluate only scores already-generated images).
package imagesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// Image is one generated image reference.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Evaluation is one image's quality score, returned independently per image
// so a single bad evaluation degrades that image's score rather than
// failing the whole phase (spec.md §9, "accept-and-proceed").
type Evaluation struct {
	Score       float64  `json:"score"`
	Passed      bool     `json:"passed"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Client generates and evaluates images.
type Client interface {
	Generate(ctx context.Context, prompt string, size string, count int) ([]Image, error)
	Evaluate(ctx context.Context, image Image, requirements string) (Evaluation, error)
}

// HTTPClient is the http.Client subset needed, for test substitution.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTClient calls an image provider exposing two JSON POST endpoints under
// a shared base URL: `/generate` and `/evaluate`.
type RESTClient struct {
	BaseURL string
	APIKey  string
	client  HTTPClient
}

// NewRESTClient builds a RESTClient. A nil httpClient defaults to an
// *http.Client with a generous timeout, since image generation is typically
// slower than text generation.
func NewRESTClient(baseURL, apiKey string, httpClient HTTPClient) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &RESTClient{BaseURL: baseURL, APIKey: apiKey, client: httpClient}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	Count  int    `json:"count"`
}

type generateResponse struct {
	Images []Image `json:"images"`
}

type evaluateRequest struct {
	ImageURL     string `json:"imageUrl"`
	Requirements string `json:"requirements"`
}

// Generate implements Client.
func (c *RESTClient) Generate(ctx context.Context, prompt, size string, count int) ([]Image, error) {
	if count <= 0 {
		count = 1
	}
	var out generateResponse
	if err := c.call(ctx, "/generate", generateRequest{Prompt: prompt, Size: size, Count: count}, &out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

// Evaluate implements Client.
func (c *RESTClient) Evaluate(ctx context.Context, image Image, requirements string) (Evaluation, error) {
	var out Evaluation
	if err := c.call(ctx, "/evaluate", evaluateRequest{ImageURL: image.URL, Requirements: requirements}, &out); err != nil {
		return Evaluation{}, err
	}
	return out, nil
}

func (c *RESTClient) call(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "marshal image request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errkind.Wrap(errkind.Internal, "build image request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errkind.Wrap(errkind.Cancelled, "image request cancelled", ctx.Err())
		}
		return errkind.Wrap(errkind.TransientExternal, "image transport error", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Wrap(errkind.TransientExternal, "read image response", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errkind.New(errkind.TransientExternal, fmt.Sprintf("image provider returned %d", resp.StatusCode)).
			WithDetails(map[string]any{"statusCode": resp.StatusCode, "body": string(respBody)})
	}
	if resp.StatusCode >= 400 {
		return errkind.New(errkind.PermanentExternal, fmt.Sprintf("image provider returned %d", resp.StatusCode)).
			WithDetails(map[string]any{"statusCode": resp.StatusCode, "body": string(respBody)})
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errkind.Wrap(errkind.PermanentExternal, "unparseable image response", err)
	}
	return nil
}

var _ Client = (*RESTClient)(nil)
