package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ConsoleOutput formats logs for human readability.
type ConsoleOutput struct {
	mu     sync.Mutex
	writer io.Writer
	color  bool // Whether to use ANSI color codes
}

type ConsoleOutputOption func(*ConsoleOutput)

func WithColor(enabled bool) ConsoleOutputOption {
	return func(c *ConsoleOutput) {
		c.color = enabled
	}
}

func NewConsoleOutput(useStderr bool, opts ...ConsoleOutputOption) *ConsoleOutput {
	writer := os.Stdout
	if useStderr {
		writer = os.Stderr
	}

	c := &ConsoleOutput{
		writer: writer,
		color:  true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func getSeverityColor(s Severity) string {
	switch s {
	case DEBUG:
		return "\033[37m" // Gray
	case INFO:
		return "\033[32m" // Green
	case WARN:
		return "\033[33m" // Yellow
	case ERROR:
		return "\033[31m" // Red
	case FATAL:
		return "\033[35m" // Magenta
	default:
		return ""
	}
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result string
	for _, k := range keys {
		v := fields[k]
		// Truncate prompt/completion text for log display
		if k == "prompt" || k == "completion" {
			str := fmt.Sprintf("%v", v)
			if len(str) > 100 {
				str = str[:97] + "..."
			}
			result += fmt.Sprintf("%s=%q ", k, str)
		} else {
			result += fmt.Sprintf("%s=%v ", k, v)
		}
	}

	return result
}

func formatEntry(e LogEntry, color bool) string {
	timestamp := time.Unix(0, e.Time).Format("2006-01-02 15:04:05.000")

	var levelColor, resetColor string
	if color {
		levelColor = getSeverityColor(e.Severity)
		resetColor = "\033[0m"
	}

	basic := fmt.Sprintf("%s %s%-5s%s [%s:%d] %s",
		timestamp,
		levelColor,
		e.Severity,
		resetColor,
		e.File,
		e.Line,
		e.Message,
	)

	if e.ModelID != "" {
		basic += fmt.Sprintf(" [model=%s]", e.ModelID)
	}

	if e.TokenInfo != nil {
		basic += fmt.Sprintf(" [tokens=%d]", e.TokenInfo.TotalTokens)
	}

	if len(e.Fields) > 0 {
		basic += " " + formatFields(e.Fields)
	}

	return basic
}

func (o *ConsoleOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, err := fmt.Fprintln(o.writer, formatEntry(e, o.color))
	return err
}

func (o *ConsoleOutput) Sync() error {
	if syncer, ok := o.writer.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

func (o *ConsoleOutput) Close() error {
	if closer, ok := o.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// FileOutput appends plain-text log lines to a file.
type FileOutput struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return &FileOutput{file: f}, nil
}

func (o *FileOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, err := fmt.Fprintln(o.file, formatEntry(e, false))
	return err
}

func (o *FileOutput) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.file.Sync()
}

func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.file.Close()
}
