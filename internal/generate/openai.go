package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"sitemap-ingestor/internal/models"
)

// OpenAI generates through the chat completions API of OpenAI or an Azure deployment.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAI(cfg Config) *OpenAI {
	c := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		c.BaseURL = cfg.OpenAI.BaseURL
	}
	return newOpenAI(c, cfg)
}

func NewAzure(cfg Config) *OpenAI {
	c := openai.DefaultAzureConfig(cfg.Azure.APIKey, cfg.Azure.Endpoint)
	if cfg.Azure.APIVersion != "" {
		c.APIVersion = cfg.Azure.APIVersion
	}
	if d := cfg.Azure.Deployment; d != "" {
		c.AzureModelMapperFunc = func(string) string { return d }
	}
	return newOpenAI(c, cfg)
}

func newOpenAI(c openai.ClientConfig, cfg Config) *OpenAI {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClientWithConfig(c), model: model, maxTokens: cfg.MaxTokens}
}

func (o *OpenAI) Generate(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %w", models.ErrThrottled, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
