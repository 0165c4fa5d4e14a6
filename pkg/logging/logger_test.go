package logging

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockOutput struct {
	entries []LogEntry
	mu      sync.Mutex
	closed  bool
}

func NewMockOutput() *MockOutput {
	return &MockOutput{
		entries: make([]LogEntry, 0),
	}
}

func (m *MockOutput) Write(entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("output is closed")
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutput) Sync() error {
	return nil
}

func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockOutput) GetEntries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.entries...)
}

func TestNewLogger(t *testing.T) {
	mockOutput := NewMockOutput()
	defaultFields := map[string]interface{}{
		"service": "kepler",
	}

	logger := NewLogger(Config{
		Severity:      INFO,
		Outputs:       []Output{mockOutput},
		DefaultFields: defaultFields,
	})

	assert.Equal(t, INFO, logger.severity)
	assert.Equal(t, defaultFields, logger.fields)
}

func TestSeverityFiltering(t *testing.T) {
	mockOutput := NewMockOutput()
	logger := NewLogger(Config{
		Severity: WARN,
		Outputs:  []Output{mockOutput},
	})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	entries := mockOutput.GetEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, WARN, entries[0].Severity)
	assert.Equal(t, "warn message", entries[0].Message)
	assert.Equal(t, ERROR, entries[1].Severity)
}

func TestContextAnnotations(t *testing.T) {
	mockOutput := NewMockOutput()
	logger := NewLogger(Config{
		Severity: DEBUG,
		Outputs:  []Output{mockOutput},
	})

	ctx := WithModelID(context.Background(), "claude-3-haiku-20240307")
	ctx = WithTokenInfo(ctx, &TokenInfo{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})

	logger.Info(ctx, "cycle complete")

	entries := mockOutput.GetEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "claude-3-haiku-20240307", entries[0].ModelID)
	require.NotNil(t, entries[0].TokenInfo)
	assert.Equal(t, 15, entries[0].TokenInfo.TotalTokens)
}

func TestDefaultFieldsApplied(t *testing.T) {
	mockOutput := NewMockOutput()
	logger := NewLogger(Config{
		Severity:      INFO,
		Outputs:       []Output{mockOutput},
		DefaultFields: map[string]interface{}{"component": "agent"},
	})

	logger.Info(context.Background(), "hello")

	entries := mockOutput.GetEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "agent", entries[0].Fields["component"])
}

func TestGlobalLogger(t *testing.T) {
	logger1 := GetLogger()
	assert.NotNil(t, logger1)

	mockOutput := NewMockOutput()
	customLogger := NewLogger(Config{
		Severity: DEBUG,
		Outputs:  []Output{mockOutput},
	})
	SetLogger(customLogger)

	logger2 := GetLogger()
	assert.Equal(t, customLogger, logger2)
}

func TestConcurrentLogging(t *testing.T) {
	mockOutput := NewMockOutput()
	logger := NewLogger(Config{
		Severity: DEBUG,
		Outputs:  []Output{mockOutput},
	})

	var wg sync.WaitGroup
	numGoroutines := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info(context.Background(), "message %d", n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, mockOutput.GetEntries(), numGoroutines)
}

func TestPromptCompletionLoggedAtDebug(t *testing.T) {
	mockOutput := NewMockOutput()
	logger := NewLogger(Config{
		Severity: DEBUG,
		Outputs:  []Output{mockOutput},
	})

	logger.PromptCompletion(context.Background(), "a prompt", "a completion", &TokenInfo{TotalTokens: 3})
	require.Len(t, mockOutput.GetEntries(), 1)

	quiet := NewLogger(Config{
		Severity: INFO,
		Outputs:  []Output{mockOutput},
	})
	quiet.PromptCompletion(context.Background(), "a prompt", "a completion", nil)
	assert.Len(t, mockOutput.GetEntries(), 1)
}
