// Package searchsvc treats the web search provider as an opaque RPC endpoint
// (spec.md §1, "known request/response shapes and failure modes"). Grounded
// on the teacher's HTTPTool (graph/tool/http.go): a context-aware
// *http.Client call, status-code classification into the shared error
// taxonomy instead of a bare error string.
package searchsvc

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

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client searches the web for a query and returns a bounded set of results.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// HTTPClient is the http.Client subset needed, for test substitution.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTClient calls a search provider exposing a single JSON POST endpoint:
// request `{query, maxResults}`, response `{results: [{title, url, snippet}]}`.
type RESTClient struct {
	BaseURL string
	APIKey  string
	client  HTTPClient
}

// NewRESTClient builds a RESTClient. A nil httpClient defaults to an
// *http.Client with a conservative timeout.
func NewRESTClient(baseURL, apiKey string, httpClient HTTPClient) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &RESTClient{BaseURL: baseURL, APIKey: apiKey, client: httpClient}
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search implements Client.
func (c *RESTClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	body, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "marshal search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "build search request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.Wrap(errkind.Cancelled, "search request cancelled", ctx.Err())
		}
		return nil, errkind.Wrap(errkind.TransientExternal, "search transport error", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientExternal, "read search response", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errkind.New(errkind.TransientExternal, fmt.Sprintf("search provider returned %d", resp.StatusCode)).
			WithDetails(map[string]any{"statusCode": resp.StatusCode, "body": string(respBody)})
	}
	if resp.StatusCode >= 400 {
		return nil, errkind.New(errkind.PermanentExternal, fmt.Sprintf("search provider returned %d", resp.StatusCode)).
			WithDetails(map[string]any{"statusCode": resp.StatusCode, "body": string(respBody)})
	}

	var out searchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errkind.Wrap(errkind.PermanentExternal, "unparseable search response", err)
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	return out.Results, nil
}

var _ Client = (*RESTClient)(nil)
