// Package oracle is the reasoning-function boundary: a typed request in, a
// typed response out, independent of which model or provider backs it.
// Model selection is threaded explicitly through every call; there is no
// process-wide mutable model setting, so concurrent sessions configured
// with different models cannot race.
package oracle

import (
	"context"
	"errors"
)

// ErrMissingCredential indicates no usable API key exists for the
// configured model. Sessions fail fast on this before any loop iteration.
var ErrMissingCredential = errors.New("no API key found for configured model")

// ModelConfig selects the reasoning model for a single call.
type ModelConfig struct {
	Model string `json:"llm"`
}

// Request is one reasoning call.
type Request struct {
	Prompt      string
	Model       ModelConfig
	Temperature float64
	MaxTokens   int
}

// Oracle maps a prompt to a completion and texts to embedding vectors.
// Implementations must be safe for concurrent use.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CredentialChecker is implemented by oracles that can verify a model has a
// usable credential without issuing a call.
type CredentialChecker interface {
	CheckCredential(model ModelConfig) error
}

// EnsureCredential verifies the model's credential when the oracle supports
// it. Stub oracles without credentials pass trivially.
func EnsureCredential(o Oracle, model ModelConfig) error {
	if c, ok := o.(CredentialChecker); ok {
		return c.CheckCredential(model)
	}
	return nil
}
