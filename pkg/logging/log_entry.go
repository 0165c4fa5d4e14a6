package logging

import "context"

// LogEntry is a structured log record with fields relevant to model operations.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Model-specific fields
	ModelID   string
	TokenInfo *TokenInfo

	// General structured data
	Fields map[string]interface{}
}

// TokenInfo tracks token usage for a model interaction.
type TokenInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type modelIDKeyType struct{}
type tokenInfoKeyType struct{}

// WithModelID annotates a context with the model id used for the request.
func WithModelID(ctx context.Context, modelID string) context.Context {
	return context.WithValue(ctx, modelIDKeyType{}, modelID)
}

// GetModelID extracts the model id from a context, if present.
func GetModelID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(modelIDKeyType{}).(string)
	return id, ok
}

// WithTokenInfo annotates a context with token usage for the request.
func WithTokenInfo(ctx context.Context, info *TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKeyType{}, info)
}

// GetTokenInfo extracts token usage from a context, if present.
func GetTokenInfo(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKeyType{}).(*TokenInfo)
	return info, ok
}
