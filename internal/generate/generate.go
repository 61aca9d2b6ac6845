// Package generate writes articles from retrieved documents with a chat model.
package generate

import (
	"context"
	"fmt"
	"strings"

	"sitemap-ingestor/internal/models"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"

	DefaultSystemPrompt = "Follow user instructions. Write using Markdown."
	DefaultMaxTokens    = 2048
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Generator returns the model's reply to a role-tagged conversation.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Config struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
	SystemPrompt string `mapstructure:"system_prompt"`
	// MaxRetries is the SDK-level retry count for transient API errors.
	MaxRetries int `mapstructure:"max_retries"`

	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Azure     AzureConfig     `mapstructure:"azure"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type AzureConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Endpoint   string `mapstructure:"endpoint"`
	APIVersion string `mapstructure:"api_version"`
	Deployment string `mapstructure:"deployment"`
}

// New returns the generator for cfg.Provider.
func New(cfg Config) (Generator, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	switch cfg.Provider {
	case "", ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("generate: anthropic api key is required")
		}
		return NewAnthropic(cfg), nil
	case ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("generate: openai api key is required")
		}
		return NewOpenAI(cfg), nil
	case ProviderAzure:
		if cfg.Azure.APIKey == "" || cfg.Azure.Endpoint == "" {
			return nil, fmt.Errorf("generate: azure api key and endpoint are required")
		}
		return NewAzure(cfg), nil
	default:
		return nil, fmt.Errorf("generate: unknown provider %q", cfg.Provider)
	}
}

// ComposePrompt appends each document, followed by a blank line, to the prompt.
func ComposePrompt(prompt string, hits []models.Hit) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n")
	for _, h := range hits {
		b.WriteString(h.Document)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Searcher is the slice of a collection that article writing needs.
type Searcher interface {
	Query(ctx context.Context, text string, n int) ([]models.Hit, error)
}

// Article retrieves the n documents closest to search and asks gen to follow prompt
// using them as context.
type Article struct {
	Searcher     Searcher
	Generator    Generator
	SystemPrompt string
}

type ArticleResult struct {
	Text    string       `json:"text"`
	Sources []models.Hit `json:"sources"`
}

func (a *Article) Write(ctx context.Context, prompt, search string, n int) (ArticleResult, error) {
	if search == "" {
		search = prompt
	}
	hits, err := a.Searcher.Query(ctx, search, n)
	if err != nil {
		return ArticleResult{}, fmt.Errorf("search %q: %w", search, err)
	}

	system := a.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	text, err := a.Generator.Generate(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: ComposePrompt(prompt, hits)},
	})
	if err != nil {
		return ArticleResult{Sources: hits}, fmt.Errorf("generate: %w", err)
	}
	return ArticleResult{Text: text, Sources: hits}, nil
}

// split separates system messages from the conversation.
func split(messages []Message) (system []string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
