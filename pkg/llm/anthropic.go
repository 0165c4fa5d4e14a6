package llm

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

// AnthropicClient implements Client for Anthropic's models.
type AnthropicClient struct {
	client      *anthropic.Client
	modelID     string
	maxTokens   int
	temperature float64
}

// NewAnthropicClient creates an Anthropic client from the model
// configuration. The API key falls back to ANTHROPIC_API_KEY.
func NewAnthropicClient(cfg config.ModelConfig) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "Anthropic API key is required"),
			errors.Fields{"env_var": "ANTHROPIC_API_KEY"})
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicClient{
		client:      &client,
		modelID:     cfg.ModelID,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// ModelID implements Client.
func (a *AnthropicClient) ModelID() string {
	return a.modelID
}

// ProviderName implements Client.
func (a *AnthropicClient) ProviderName() string {
	return "anthropic"
}

// Generate implements Client.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	logger := logging.GetLogger()
	opts := a.defaults().apply(options)

	params := anthropic.MessageNewParams{
		Model: anthropic.Model(a.modelID),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			logger.Error(ctx, "Anthropic API error: status code %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "failed to generate response"),
			errors.Fields{
				"model":      a.modelID,
				"max_tokens": opts.MaxTokens,
			})
	}

	if message == nil || len(message.Content) == 0 {
		return nil, errors.New(errors.InvalidResponse, "received empty content from Anthropic API")
	}

	var responseText string
	if block := message.Content[0]; block.Type == "text" {
		responseText = block.Text
	}

	usage := &TokenUsage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}

	logger.Debug(ctx, "Anthropic response: %d prompt tokens, %d completion tokens",
		message.Usage.InputTokens, message.Usage.OutputTokens)

	return &Response{Content: responseText, Usage: usage}, nil
}

func (a *AnthropicClient) defaults() *GenerateOptions {
	opts := NewGenerateOptions()
	if a.maxTokens > 0 {
		opts.MaxTokens = a.maxTokens
	}
	if a.temperature > 0 {
		opts.Temperature = a.temperature
	}
	return opts
}
