// Package finetune accumulates prompt/response examples and drives
// OpenAI-compatible fine-tuning jobs: upload, job creation, polling, and the
// model swap when a job succeeds.
package finetune

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

// Scanner headroom for JSONL lines carrying full memory-sized prompts.
const maxExampleLine = 4 * 1024 * 1024

// Message is one chat turn inside a fine-tuning example.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Example is one JSONL line in the accumulator, in the chat fine-tuning
// shape the API expects.
type Example struct {
	Messages  []Message `json:"messages"`
	Timestamp string    `json:"timestamp"`
}

// ExampleRecorder appends model interactions to the JSONL accumulator,
// keeping only the most recent examples. It is safe for concurrent use; the
// agent records while the fine-tuning poller may trim.
type ExampleRecorder struct {
	path   string
	keep   int
	logger *logging.Logger
	clock  func() time.Time

	mu sync.Mutex
}

// RecorderOption configures an ExampleRecorder.
type RecorderOption func(*ExampleRecorder)

// WithRecorderClock overrides the timestamp source.
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *ExampleRecorder) { r.clock = clock }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *logging.Logger) RecorderOption {
	return func(r *ExampleRecorder) { r.logger = logger }
}

// NewExampleRecorder creates a recorder writing to path, retaining at most
// keep examples.
func NewExampleRecorder(path string, keep int, opts ...RecorderOption) *ExampleRecorder {
	r := &ExampleRecorder{
		path:   path,
		keep:   keep,
		logger: logging.GetLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the accumulator file path.
func (r *ExampleRecorder) Path() string {
	return r.path
}

// Record appends one interaction and trims the accumulator to the retention
// limit.
func (r *ExampleRecorder) Record(prompt, response string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	examples, err := r.read()
	if err != nil {
		return err
	}

	examples = append(examples, Example{
		Messages: []Message{
			{Role: "system", Content: prompt},
			{Role: "assistant", Content: response},
		},
		Timestamp: r.clock().Format(time.RFC3339),
	})

	if r.keep > 0 && len(examples) > r.keep {
		examples = examples[len(examples)-r.keep:]
	}

	return r.write(examples)
}

// Count returns the number of accumulated examples.
func (r *ExampleRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	examples, err := r.read()
	if err != nil {
		r.logger.Error(nil, "failed to count fine-tuning examples: %v", err)
		return 0
	}
	return len(examples)
}

// Trim retains only the most recent keep examples.
func (r *ExampleRecorder) Trim(keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	examples, err := r.read()
	if err != nil {
		return err
	}
	if keep >= 0 && len(examples) > keep {
		examples = examples[len(examples)-keep:]
	}
	return r.write(examples)
}

func (r *ExampleRecorder) read() ([]Example, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open example file"),
			errors.Fields{"path": r.path})
	}
	defer f.Close()

	var examples []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxExampleLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ex Example
		if err := json.Unmarshal(line, &ex); err != nil {
			r.logger.Debug(nil, "skipping malformed example line: %v", err)
			continue
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to read example file")
	}
	return examples, nil
}

func (r *ExampleRecorder) write(examples []Example) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to create example directory")
	}

	tmp, err := os.CreateTemp(dir, ".examples-*")
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	for _, ex := range examples {
		if err := enc.Encode(ex); err != nil {
			tmp.Close()
			return errors.Wrap(err, errors.StorageFailed, "failed to encode example")
		}
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to close temp file")
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to replace example file")
	}
	return nil
}
