package searchsvc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

func httpBody(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

type fakeDoer struct {
	status int
	body   string
	err    error
}

func (f fakeDoer) Do(req *http.Request) (*http.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       httpBody(f.body),
		Header:     http.Header{},
	}, nil
}

func TestRESTClientSearchReturnsResults(t *testing.T) {
	payload, _ := json.Marshal(searchResponse{Results: []Result{
		{Title: "Go 1.24 released", URL: "https://go.dev", Snippet: "..."},
	}})
	c := NewRESTClient("https://search.example", "key", fakeDoer{status: 200, body: string(payload)})

	results, err := c.Search(context.Background(), "golang", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Go 1.24 released", results[0].Title)
}

func TestRESTClientSearchClassifies5xxAsTransient(t *testing.T) {
	c := NewRESTClient("https://search.example", "key", fakeDoer{status: 503, body: "unavailable"})

	_, err := c.Search(context.Background(), "golang", 5)
	require.Error(t, err)
	assert.Equal(t, errkind.TransientExternal, errkind.KindOf(err))
}

func TestRESTClientSearchClassifies4xxAsPermanent(t *testing.T) {
	c := NewRESTClient("https://search.example", "key", fakeDoer{status: 401, body: "unauthorized"})

	_, err := c.Search(context.Background(), "golang", 5)
	require.Error(t, err)
	assert.Equal(t, errkind.PermanentExternal, errkind.KindOf(err))
}

func TestRESTClientSearchTruncatesToMaxResults(t *testing.T) {
	payload, _ := json.Marshal(searchResponse{Results: []Result{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}})
	c := NewRESTClient("https://search.example", "", fakeDoer{status: 200, body: string(payload)})

	results, err := c.Search(context.Background(), "golang", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
