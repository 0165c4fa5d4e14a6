// Package dashboard serves a read-only web view of the running agent: the
// interaction log, the memory document, recorded artifacts, and curated
// articles. The agent pushes state in through the Observer methods; the
// HTTP handlers only ever read.
package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxLogEntries   = 100
	maxInteractions = 50
	shortenAt       = 200
)

// LogEntry is one line of the dashboard interaction log.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// Turn is one side of a model interaction with its capture time.
type Turn struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Interaction pairs a full prompt with the response it produced.
type Interaction struct {
	Prompt    *Turn     `json:"prompt"`
	Response  *Turn     `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// State accumulates what the agent reports. Log messages are shortened;
// the latest full prompt/response pair and a bounded interaction history
// are kept verbatim. Safe for concurrent use.
type State struct {
	clock func() time.Time

	mu             sync.RWMutex
	logs           []LogEntry
	latestPrompt   *Turn
	latestResponse *Turn
	pending        *Interaction
	history        []Interaction
	counts         map[string]int
}

// StateOption configures a State.
type StateOption func(*State)

// WithStateClock overrides the time source.
func WithStateClock(clock func() time.Time) StateOption {
	return func(s *State) { s.clock = clock }
}

// NewState creates an empty dashboard state.
func NewState(opts ...StateOption) *State {
	s := &State{
		clock:  time.Now,
		counts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PromptSent records a prompt going out to the model and opens a pending
// interaction.
func (s *State) PromptSent(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.appendLog("prompt", shorten(prompt))
	turn := &Turn{Content: prompt, Timestamp: entry.Timestamp}
	s.latestPrompt = turn
	s.pending = &Interaction{Prompt: turn, Timestamp: entry.Timestamp}
}

// ResponseReceived records the model's reply and completes the pending
// interaction.
func (s *State) ResponseReceived(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.appendLog("response", shorten(response))
	turn := &Turn{Content: response, Timestamp: entry.Timestamp}
	s.latestResponse = turn

	if s.pending != nil && s.pending.Prompt != nil {
		s.pending.Response = turn
		s.history = append(s.history, *s.pending)
		if len(s.history) > maxInteractions {
			s.history = s.history[len(s.history)-maxInteractions:]
		}
		s.pending = nil
	}
}

// Event records a lifecycle event and bumps its per-kind counter.
func (s *State) Event(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLog(kind, message)
	s.counts[kind]++
}

// appendLog adds an entry and trims the ring. Caller holds mu.
func (s *State) appendLog(kind, message string) LogEntry {
	entry := LogEntry{
		ID:        uuid.New().String(),
		Timestamp: s.clock(),
		Kind:      kind,
		Message:   message,
	}
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[len(s.logs)-maxLogEntries:]
	}
	return entry
}

// Logs returns the newest entries first. limit <= 0 returns everything.
func (s *State) Logs(limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.logs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]LogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.logs[i])
	}
	return out
}

// LogsSince returns entries strictly after ts, newest first.
func (s *State) LogsSince(ts time.Time) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LogEntry, 0)
	for i := len(s.logs) - 1; i >= 0; i-- {
		if !s.logs[i].Timestamp.After(ts) {
			break
		}
		out = append(out, s.logs[i])
	}
	return out
}

// Latest returns copies of the full most recent prompt and response. Either
// may be nil before the first interaction.
func (s *State) Latest() (*Turn, *Turn) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prompt, response *Turn
	if s.latestPrompt != nil {
		p := *s.latestPrompt
		prompt = &p
	}
	if s.latestResponse != nil {
		r := *s.latestResponse
		response = &r
	}
	return prompt, response
}

// Interactions returns completed prompt/response pairs, newest first.
// limit <= 0 returns everything.
func (s *State) Interactions(limit int) []Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Interaction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// Counts returns a copy of the per-kind event counters.
func (s *State) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// shorten caps a log message at shortenAt characters, ellipsis included.
func shorten(text string) string {
	runes := []rune(text)
	if len(runes) <= shortenAt {
		return text
	}
	return string(runes[:shortenAt-3]) + "..."
}
