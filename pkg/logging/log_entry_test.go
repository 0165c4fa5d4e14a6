package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()

	ctxWithModel := WithModelID(ctx, "ft:gpt-4o-mini:kepler")
	retrievedModelID, ok := GetModelID(ctxWithModel)
	assert.True(t, ok)
	assert.Equal(t, "ft:gpt-4o-mini:kepler", retrievedModelID)

	tokenInfo := &TokenInfo{
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}
	ctxWithToken := WithTokenInfo(ctx, tokenInfo)
	retrievedTokenInfo, ok := GetTokenInfo(ctxWithToken)
	assert.True(t, ok)
	assert.Equal(t, tokenInfo, retrievedTokenInfo)

	_, ok = GetModelID(ctx)
	assert.False(t, ok)
	_, ok = GetTokenInfo(ctx)
	assert.False(t, ok)
}
