package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	chatCompletionsPath  = "/v1/chat/completions"
)

// OpenAIClient implements Client for OpenAI-compatible chat-completion
// endpoints over raw HTTP. The model id is mutex-guarded because the
// fine-tuning subsystem swaps it at runtime.
type OpenAIClient struct {
	mu          sync.RWMutex
	modelID     string
	baseURL     string
	apiKey      string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewOpenAIClient creates an OpenAI-compatible client from the model
// configuration. The API key falls back to OPENAI_API_KEY and is required
// only for the official endpoint.
func NewOpenAIClient(cfg config.ModelConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if apiKey == "" && baseURL == defaultOpenAIBaseURL {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "OpenAI API key is required for api.openai.com"),
			errors.Fields{"env_var": "OPENAI_API_KEY"})
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		modelID:     cfg.ModelID,
		baseURL:     baseURL,
		apiKey:      apiKey,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// ModelID implements Client.
func (o *OpenAIClient) ModelID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.modelID
}

// SetModelID swaps the model id used for subsequent requests. Called by the
// fine-tuning subsystem when a job produces a new model.
func (o *OpenAIClient) SetModelID(modelID string) {
	o.mu.Lock()
	o.modelID = modelID
	o.mu.Unlock()
}

// ProviderName implements Client.
func (o *OpenAIClient) ProviderName() string {
	return "openai"
}

// Chat-completions wire format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// Generate implements Client.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	logger := logging.GetLogger()
	opts := o.defaults().apply(options)

	var messages []chatMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	request := &chatRequest{
		Model:       o.ModelID(),
		Messages:    messages,
		MaxTokens:   &opts.MaxTokens,
		Temperature: &opts.Temperature,
	}

	response, err := o.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, errors.New(errors.InvalidResponse, "no choices returned from OpenAI API")
	}

	usage := &TokenUsage{
		PromptTokens:     response.Usage.PromptTokens,
		CompletionTokens: response.Usage.CompletionTokens,
		TotalTokens:      response.Usage.TotalTokens,
	}

	logger.Debug(ctx, "OpenAI response: %d prompt tokens, %d completion tokens",
		usage.PromptTokens, usage.CompletionTokens)

	return &Response{
		Content: response.Choices[0].Message.Content,
		Usage:   usage,
	}, nil
}

func (o *OpenAIClient) makeRequest(ctx context.Context, request *chatRequest) (*chatResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to marshal request")
	}

	url := o.baseURL + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.LLMGenerationFailed, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.LLMGenerationFailed, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp errorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil {
			return nil, errors.WithFields(
				errors.New(errors.LLMGenerationFailed, "API request failed"),
				errors.Fields{"status": resp.StatusCode, "body": string(body)})
		}
		return nil, errors.WithFields(
			errors.New(errors.LLMGenerationFailed, errorResp.Error.Message),
			errors.Fields{"type": errorResp.Error.Type, "status": resp.StatusCode})
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to parse response")
	}

	return &response, nil
}

func (o *OpenAIClient) defaults() *GenerateOptions {
	opts := NewGenerateOptions()
	if o.maxTokens > 0 {
		opts.MaxTokens = o.maxTokens
	}
	if o.temperature > 0 {
		opts.Temperature = o.temperature
	}
	return opts
}
