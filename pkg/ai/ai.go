package ai

import "context"

// GenerateOptions holds per-call configuration for generation requests.
type GenerateOptions struct {
	Model         string
	SystemPrompts []string
	Temperature   float64
}

// GenerateOption is a functional option for configuring generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the model used for a single call.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// Client is the language-model boundary the pipeline depends on. Only three
// operations are needed: plain completion, schema-constrained completion
// parsed into a struct, and embeddings. Implementations live in the openai
// and ollama subpackages.
type Client interface {
	Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// CompleteJSON requests structured output described by the JSON schema
	// derived from out's type, and unmarshals the response into out. The
	// name and description identify the schema to the model.
	CompleteJSON(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) error

	Embed(ctx context.Context, input string) ([]float32, error)
}
