// Package llm provides the model clients used by the agent, one per
// provider, behind a single Client interface.
package llm

import "context"

// TokenUsage reports token consumption for one generation.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of one generation.
type Response struct {
	Content string
	Usage   *TokenUsage
}

// Client is implemented by every model provider.
type Client interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (*Response, error)

	// ModelID returns the model identifier requests are sent with.
	ModelID() string

	// ProviderName identifies the provider ("anthropic", "openai").
	ProviderName() string
}

// GenerateOption configures a single generation request.
type GenerateOption func(*GenerateOptions)

// GenerateOptions holds configuration for text generation.
type GenerateOptions struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// NewGenerateOptions returns options with default values.
func NewGenerateOptions() *GenerateOptions {
	return &GenerateOptions{
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

func (o *GenerateOptions) apply(opts []GenerateOption) *GenerateOptions {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = t
	}
}

// WithSystemPrompt sets an instruction sent ahead of the user prompt.
func WithSystemPrompt(s string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompt = s
	}
}
