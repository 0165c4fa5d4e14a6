// Package memory manages the agent's persistent memory document: a single
// markdown-like file with named sections that every action cycle folds its
// model response into.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
	"github.com/keplerlab/kepler/pkg/sections"
)

const (
	// SectionIdentity and friends are the persistent sections the initial
	// template seeds and the fold routes target.
	SectionIdentity  = "Agent Identity and Goal"
	SectionProgress  = "Progress Summary"
	SectionActions   = "Recent Actions and Outcomes"
	SectionTopics    = "Research Topics"
	SectionNextSteps = "Next Steps and Planning"
	SectionInsights  = "Insights and Learnings"

	// actionEntryPrefix names the single raw-response entry. The entry is
	// always the document's final block.
	actionEntryPrefix = "Action Taken at "

	// reflectionPrefix names appended reflection entries.
	reflectionPrefix = "Reflection at "

	timestampLayout = "2006-01-02 15:04:05"
)

// Route maps response subsection names onto one persistent section. The
// first accepted name present in a response wins.
type Route struct {
	Target string
	Accept []string
}

// DefaultRoutes is the built-in response-to-memory routing table.
func DefaultRoutes() []Route {
	return []Route{
		{Target: SectionProgress, Accept: []string{"Progress Assessment", "Observations"}},
		{Target: SectionActions, Accept: []string{"Outcome and Learning Report", "Execute Action"}},
		{Target: SectionTopics, Accept: []string{"Research Topics", "Topics to Explore"}},
		{Target: SectionNextSteps, Accept: []string{"Next Steps", "Next Action"}},
		{Target: SectionInsights, Accept: []string{"Learnings", "Insights"}},
	}
}

// Store is the file-backed memory document.
type Store struct {
	path      string
	maxChars  int
	keepLines int
	routes    []Route
	logger    *logging.Logger
	clock     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBudget sets the character budget and the per-section line retention
// used during compaction. A zero budget disables compaction.
func WithBudget(maxChars, keepLines int) Option {
	return func(s *Store) {
		s.maxChars = maxChars
		if keepLines > 0 {
			s.keepLines = keepLines
		}
	}
}

// WithRoutes overrides the response-to-memory routing table.
func WithRoutes(routes []Route) Option {
	return func(s *Store) {
		if len(routes) > 0 {
			s.routes = routes
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source for timestamped entries.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates a Store for the document at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:      path,
		keepLines: 20,
		routes:    DefaultRoutes(),
		logger:    logging.GetLogger(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document's file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the document is present and non-empty.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Size() > 0
}

// Read returns the whole document. Read failures are logged and yield "".
func (s *Store) Read() string {
	if !s.Exists() {
		return ""
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Error(nil, "failed to read memory document %s: %v", s.path, err)
		return ""
	}
	return string(data)
}

// Write atomically overwrites the whole document: the content lands in a
// temp file in the same directory which is then renamed over the target, so
// a crash mid-write never leaves a truncated document.
func (s *Store) Write(content string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to create memory directory"),
			errors.Fields{"dir": dir})
	}

	tmp, err := os.CreateTemp(dir, ".memory-*")
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to create temp memory file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.StorageFailed, "failed to write memory document")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.StorageFailed, "failed to sync memory document")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.StorageFailed, "failed to close temp memory file")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to replace memory document"),
			errors.Fields{"path": s.path})
	}

	s.logger.Debug(nil, "memory document updated (%d chars)", len(content))
	return nil
}

// Initialize writes the initial memory template for a fresh agent.
func (s *Store) Initialize(name, goal string) error {
	created := s.clock().Format(timestampLayout)
	content := fmt.Sprintf(`# %s - Autonomous Agent Memory

## %s
- Name: %s
- Goal: %s
- Created: %s

## %s
I am just beginning my journey. I have not yet taken any actions toward my goal.

## %s
No actions taken yet.

## %s
None identified yet.

## %s
1. Perform an initial assessment of my capabilities
2. Develop a strategy to accomplish my goal
3. Begin executing the first steps of my plan

## %s
None yet. I'm eager to learn and grow as I work toward my goal.
`,
		name,
		SectionIdentity, name, goal, created,
		SectionProgress,
		SectionActions,
		SectionTopics,
		SectionNextSteps,
		SectionInsights,
	)

	if err := s.Write(content); err != nil {
		return err
	}
	s.logger.Info(nil, "memory document initialized for agent %q", name)
	return nil
}

// ExtractSection returns the named section's body, trying the major marker
// first and the minor one second. Missing sections yield "".
func (s *Store) ExtractSection(name string) string {
	return sections.Extract(s.Read(), name)
}

// ReplaceSection rewrites the named persistent section, adding it when
// absent, and persists the document.
func (s *Store) ReplaceSection(name, body string) error {
	return s.Write(sections.Replace(s.Read(), name, body, sections.Major))
}

// splitActionEntry divides a document into the body before the raw-response
// entry and the entry itself ("" when absent). Everything after the entry
// heading belongs to the entry, which is valid because the entry is always
// the document's final block.
func splitActionEntry(text string) (body, entry string) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "## "+actionEntryPrefix) {
			body = strings.TrimRight(strings.Join(lines[:i], "\n"), "\n") + "\n"
			entry = strings.Join(lines[i:], "\n")
			return body, entry
		}
	}
	return text, ""
}
