// Package embedding turns documents into vectors for the store.
package embedding

import (
	"context"
	"fmt"
)

// Function embeds a batch of texts. The returned slice is parallel to texts.
type Function interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

const (
	FunctionDefault = "default"
	FunctionOpenAI  = "openai"
	FunctionAzure   = "azure"
)

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

type Config struct {
	Function   string       `mapstructure:"function"`
	Model      string       `mapstructure:"model"`
	Dimensions int          `mapstructure:"dimensions"`
	OpenAI     OpenAIConfig `mapstructure:"openai"`
	Azure      AzureConfig  `mapstructure:"azure"`
}

// New selects the embedding function named by cfg.Function.
func New(cfg Config) (Function, error) {
	switch cfg.Function {
	case "", FunctionDefault:
		return NewHashing(cfg.Dimensions), nil
	case FunctionOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("embedding: openai api key is required")
		}
		return NewOpenAI(cfg.OpenAI, cfg.Model), nil
	case FunctionAzure:
		if cfg.Azure.APIKey == "" || cfg.Azure.Endpoint == "" {
			return nil, fmt.Errorf("embedding: azure api key and endpoint are required")
		}
		return NewAzure(cfg.Azure, cfg.Model), nil
	default:
		return nil, fmt.Errorf("embedding: unknown function %q", cfg.Function)
	}
}
