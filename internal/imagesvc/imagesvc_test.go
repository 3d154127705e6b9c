package imagesvc

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

type fakeDoer struct {
	status int
	body   string
}

func (f fakeDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     http.Header{},
	}, nil
}

func TestRESTClientGenerateReturnsImages(t *testing.T) {
	payload, _ := json.Marshal(generateResponse{Images: []Image{{URL: "https://img/1.png", Width: 1920, Height: 1920}}})
	c := NewRESTClient("https://images.example", "key", fakeDoer{status: 200, body: string(payload)})

	images, err := c.Generate(context.Background(), "a diagram of a graph engine", "1920x1920", 1)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, 1920, images[0].Width)
}

func TestRESTClientEvaluateReturnsScore(t *testing.T) {
	payload, _ := json.Marshal(Evaluation{Score: 8.5, Passed: true})
	c := NewRESTClient("https://images.example", "key", fakeDoer{status: 200, body: string(payload)})

	eval, err := c.Evaluate(context.Background(), Image{URL: "https://img/1.png"}, "clear and on-topic")
	require.NoError(t, err)
	assert.True(t, eval.Passed)
	assert.Equal(t, 8.5, eval.Score)
}

func TestRESTClientClassifiesServerErrorAsTransient(t *testing.T) {
	c := NewRESTClient("https://images.example", "key", fakeDoer{status: 502, body: "bad gateway"})

	_, err := c.Generate(context.Background(), "x", "1920x1920", 1)
	require.Error(t, err)
	assert.Equal(t, errkind.TransientExternal, errkind.KindOf(err))
}
