package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemap-ingestor/internal/models"
)

func TestTerms(t *testing.T) {
	got := Terms("The Go programming language, and Go's tooling: 2024 release!")
	assert.Equal(t, []string{"programming", "language", "tooling", "2024", "release"}, got)
}

func TestHashingEmbedIsNormalizedAndDeterministic(t *testing.T) {
	h := NewHashing(64)
	vecs, err := h.Embed(context.Background(), []string{"network services in Go", "network services in Go", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	require.Len(t, vecs[0], 64)
	assert.Equal(t, vecs[0], vecs[1])
	assert.InDelta(t, 1.0, Cosine(vecs[0], vecs[1]), 1e-6)

	for _, x := range vecs[2] {
		require.Zero(t, x)
	}
}

func TestHashingSimilarityTracksVocabulary(t *testing.T) {
	h := NewHashing(0)
	require.Equal(t, DefaultDimensions, h.Dimensions())

	vecs, err := h.Embed(context.Background(), []string{
		"kubernetes cluster deployment pods",
		"deployment of pods on a kubernetes cluster",
		"chocolate cake baking recipe",
	})
	require.NoError(t, err)
	near := Cosine(vecs[0], vecs[1])
	far := Cosine(vecs[0], vecs[2])
	assert.Greater(t, near, far)
	assert.InDelta(t, 1.0, near, 1e-6)
}

func TestCosineEdgeCases(t *testing.T) {
	assert.Zero(t, Cosine(nil, nil))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-2, 0}), 1e-9)
}

func TestNewSelectsFunction(t *testing.T) {
	f, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, FunctionDefault, f.Name())

	f, err = New(Config{Function: FunctionOpenAI, OpenAI: OpenAIConfig{APIKey: "k"}})
	require.NoError(t, err)
	assert.Equal(t, FunctionOpenAI, f.Name())

	f, err = New(Config{Function: FunctionAzure, Azure: AzureConfig{APIKey: "k", Endpoint: "https://x.openai.azure.com"}})
	require.NoError(t, err)
	assert.Equal(t, FunctionAzure, f.Name())

	_, err = New(Config{Function: FunctionOpenAI})
	require.Error(t, err)
	_, err = New(Config{Function: "bogus"})
	require.Error(t, err)
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, DefaultModel, req.Model)

		// reversed order exercises index placement
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 1, 0}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, "")
	vecs, err := o.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 1, 0}}, vecs)
	assert.Equal(t, 3, o.Dimensions())
}

func TestOpenAIRateLimitIsThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}, "")
	_, err := o.Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, models.ErrThrottled)
}

func TestOpenAIServerErrorIsNotThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}, "")
	_, err := o.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	require.NotErrorIs(t, err, models.ErrThrottled)
}
