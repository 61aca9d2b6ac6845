package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"

	"sitemap-ingestor/internal/models"
)

const DefaultModel = "text-embedding-ada-002"

// OpenAI embeds through the OpenAI embeddings API or an Azure OpenAI deployment.
type OpenAI struct {
	client *openai.Client
	model  string
	name   string
	dims   atomic.Int32
}

func NewOpenAI(cfg OpenAIConfig, model string) *OpenAI {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return newOpenAI(c, model, FunctionOpenAI)
}

func NewAzure(cfg AzureConfig, model string) *OpenAI {
	c := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		c.APIVersion = cfg.APIVersion
	}
	if cfg.Deployment != "" {
		deployment := cfg.Deployment
		c.AzureModelMapperFunc = func(string) string { return deployment }
	}
	return newOpenAI(c, model, FunctionAzure)
}

func newOpenAI(c openai.ClientConfig, model, name string) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(c), model: model, name: name}
}

func (o *OpenAI) Name() string { return o.name }

// Dimensions is known only after the first successful call.
func (o *OpenAI) Dimensions() int { return int(o.dims.Load()) }

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding: vector index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	if len(out) > 0 {
		o.dims.Store(int32(len(out[0])))
	}
	return out, nil
}

// classify marks provider rate limiting as models.ErrThrottled.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", models.ErrThrottled, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", models.ErrThrottled, err)
	}
	return fmt.Errorf("embedding: %w", err)
}
