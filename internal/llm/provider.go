package llm

import (
	"context"
	"fmt"
)

// Provider is the opaque generation/embedding capability consumed by the
// engine. Implementations handle retry-with-backoff internally; callers treat
// every returned error as already-retried.
type Provider interface {
	// Generate produces free-form text for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateObject produces a structured response and unmarshals it into
	// out. A response that cannot be parsed into out fails with
	// SchemaValidationError.
	GenerateObject(ctx context.Context, prompt string, out interface{}) error

	// Embed generates vector embeddings for the provided inputs.
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// ProviderError indicates the underlying model endpoint failed after the
// configured retries were exhausted.
type ProviderError struct {
	Reason string
	Err    error
}

func (e ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm provider: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("llm provider: %s", e.Reason)
}

func (e ProviderError) Unwrap() error { return e.Err }

// SchemaValidationError indicates the model responded but the structured
// payload could not be parsed into the requested shape.
type SchemaValidationError struct {
	Raw string
	Err error
}

func (e SchemaValidationError) Error() string {
	return fmt.Sprintf("llm schema validation: %v", e.Err)
}

func (e SchemaValidationError) Unwrap() error { return e.Err }
