package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemap-ingestor/internal/models"
)

func TestComposePrompt(t *testing.T) {
	got := ComposePrompt("Write about Go.", []models.Hit{{Document: "doc one"}, {Document: "doc two"}})
	assert.Equal(t, "Write about Go.\n\ndoc one\n\ndoc two\n\n", got)
	assert.Equal(t, "p\n\n", ComposePrompt("p", nil))
}

func TestNewSelectsProvider(t *testing.T) {
	g, err := New(Config{Anthropic: AnthropicConfig{APIKey: "k"}})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, g)

	g, err = New(Config{Provider: ProviderOpenAI, OpenAI: OpenAIConfig{APIKey: "k"}})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	g, err = New(Config{Provider: ProviderAzure, Azure: AzureConfig{APIKey: "k", Endpoint: "https://x.openai.azure.com"}})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	_, err = New(Config{Provider: ProviderAnthropic})
	require.Error(t, err)
	_, err = New(Config{Provider: "llama"})
	require.Error(t, err)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			System    []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role    string `json:"role"`
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, 100, req.MaxTokens)
		require.Len(t, req.System, 1)
		assert.Equal(t, DefaultSystemPrompt, req.System[0].Text)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[0].Content[0].Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"# Title\n"},{"type":"text","text":"Body"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	g := NewAnthropic(Config{Model: "claude-test", MaxTokens: 100, Anthropic: AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL}})
	out, err := g.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: DefaultSystemPrompt},
		{Role: RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "# Title\nBody", out)
}

func TestAnthropicRateLimitIsThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	g := NewAnthropic(Config{Anthropic: AnthropicConfig{APIKey: "k", BaseURL: srv.URL}})
	_, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, models.ErrThrottled)
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"generated"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g := NewOpenAI(Config{Model: "gpt-test", OpenAI: OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}})
	out, err := g.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated", out)
}

type fakeSearcher struct {
	hits  []models.Hit
	query string
	n     int
}

func (f *fakeSearcher) Query(_ context.Context, text string, n int) ([]models.Hit, error) {
	f.query, f.n = text, n
	return f.hits, nil
}

type recordingGenerator struct {
	got []Message
	err error
}

func (r *recordingGenerator) Generate(_ context.Context, messages []Message) (string, error) {
	r.got = messages
	return "article", r.err
}

func TestArticleWrite(t *testing.T) {
	s := &fakeSearcher{hits: []models.Hit{{ID: "u1", Document: "first doc"}, {ID: "u2", Document: "second doc"}}}
	g := &recordingGenerator{}
	a := &Article{Searcher: s, Generator: g}

	res, err := a.Write(context.Background(), "Write a post", "golang", 2)
	require.NoError(t, err)
	assert.Equal(t, "article", res.Text)
	assert.Len(t, res.Sources, 2)
	assert.Equal(t, "golang", s.query)
	assert.Equal(t, 2, s.n)

	require.Len(t, g.got, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: DefaultSystemPrompt}, g.got[0])
	assert.Equal(t, "Write a post\n\nfirst doc\n\nsecond doc\n\n", g.got[1].Content)
}

func TestArticleSearchDefaultsToPrompt(t *testing.T) {
	s := &fakeSearcher{}
	a := &Article{Searcher: s, Generator: &recordingGenerator{}, SystemPrompt: "custom"}
	_, err := a.Write(context.Background(), "the prompt", "", 5)
	require.NoError(t, err)
	assert.Equal(t, "the prompt", s.query)
}

func TestArticleGenerationFailure(t *testing.T) {
	boom := errors.New("model offline")
	a := &Article{Searcher: &fakeSearcher{}, Generator: &recordingGenerator{err: boom}}
	_, err := a.Write(context.Background(), "p", "s", 1)
	require.ErrorIs(t, err, boom)
}
