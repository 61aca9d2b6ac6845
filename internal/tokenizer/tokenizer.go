// Package tokenizer measures text in model tokens for rate budgeting.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const DefaultModel = "text-embedding-ada-002"

// Counter is a deterministic token counter.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(string) int

func (f CounterFunc) Count(text string) int { return f(text) }

var setLoader sync.Once

// Tiktoken counts tokens with the BPE encoding of a model. Encodings are embedded in
// the binary, so no download happens at runtime.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func NewTiktoken(model string) (*Tiktoken, error) {
	if model == "" {
		model = DefaultModel
	}
	setLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("load encoding for %s: %w", model, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
