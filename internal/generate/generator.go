package generate

import (
	"context"
)

// Params controls one completion request.
type Params struct {
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// Completion is the generator's answer.
type Completion struct {
	Text            string
	TokensGenerated int
}

// Generator produces text completions from a prompt. Implementations
// must honor MaxTokens as an upper bound and respect context
// cancellation.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Params) (*Completion, error)
	ModelID() string
	Healthy(ctx context.Context) bool
}
