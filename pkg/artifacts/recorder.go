// Package artifacts records the durable outputs of action cycles: findings
// and connections as individual files plus aggregate logs, and the
// single-slot discovery declaration.
//
// Recording is deliberately forgiving: an I/O failure is logged and reported
// as a false return, never an error that could abort a cycle.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

const timestampLayout = "2006-01-02 15:04:05"

// Kind describes one artifact family.
type Kind struct {
	// Singular name used in headers and logs, e.g. "finding"
	Name string

	// Aggregate log title, e.g. "Findings Log"
	Title string

	// Directory under the artifacts base dir holding individual files
	Dir string

	// Aggregate log file name inside Dir
	Log string

	// Placeholder line seeded into an empty aggregate log
	Placeholder string
}

// Findings and Connections are the two built-in artifact kinds.
var (
	Findings = Kind{
		Name:        "finding",
		Title:       "Findings Log",
		Dir:         "findings",
		Log:         "findings_log.md",
		Placeholder: "No findings recorded yet.",
	}
	Connections = Kind{
		Name:        "connection",
		Title:       "Connections Log",
		Dir:         "connections",
		Log:         "connections_log.md",
		Placeholder: "No connections recorded yet.",
	}
)

// Recorder persists artifacts of one kind.
type Recorder struct {
	kind    Kind
	dir     string
	logPath string
	logger  *logging.Logger
	clock   func() time.Time
}

// Option configures a Recorder or Discovery.
type Option func(*options)

type options struct {
	logger *logging.Logger
	clock  func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the time source for ids and headers.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func applyOptions(opts []Option) options {
	o := options{
		logger: logging.GetLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRecorder creates a Recorder storing artifacts under baseDir/kind.Dir.
func NewRecorder(baseDir string, kind Kind, opts ...Option) *Recorder {
	o := applyOptions(opts)
	dir := filepath.Join(baseDir, kind.Dir)
	return &Recorder{
		kind:    kind,
		dir:     dir,
		logPath: filepath.Join(dir, kind.Log),
		logger:  o.logger,
		clock:   o.clock,
	}
}

// Dir returns the directory holding this kind's individual files.
func (r *Recorder) Dir() string {
	return r.dir
}

// LogPath returns the aggregate log path.
func (r *Recorder) LogPath() string {
	return r.logPath
}

// EnsureLayout creates the artifact directory and seeds the aggregate log
// with its placeholder when absent. Startup-time; may error.
func (r *Recorder) EnsureLayout() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to create artifact directory"),
			errors.Fields{"dir": r.dir})
	}

	if _, err := os.Stat(r.logPath); err == nil {
		return nil
	}

	seed := "# " + r.kind.Title + "\n\n" + r.kind.Placeholder + "\n"
	if err := os.WriteFile(r.logPath, []byte(seed), 0o644); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to seed artifact log"),
			errors.Fields{"path": r.logPath})
	}
	return nil
}

// Record writes the artifact to its own timestamped file and then appends it
// to the aggregate log, replacing the placeholder on first use. The
// individual file is written first so a log failure cannot lose the
// artifact. Failures are logged and reported as false.
func (r *Recorder) Record(title, body string) bool {
	now := r.clock()
	id := now.Format("20060102_150405") + "_" + Slug(title)
	path := filepath.Join(r.dir, id+".md")

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.logger.Error(nil, "failed to create %s directory: %v", r.kind.Name, err)
		return false
	}

	heading := cases.Title(language.English).String(r.kind.Name)
	content := fmt.Sprintf("# %s: %s\n\nRecorded: %s\n\n%s\n",
		heading, title, now.Format(timestampLayout), body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		r.logger.Error(nil, "failed to write %s file %s: %v", r.kind.Name, path, err)
		return false
	}

	if err := r.appendToLog(title, body, now); err != nil {
		r.logger.Error(nil, "failed to update %s log: %v", r.kind.Name, err)
		return false
	}

	r.logger.Info(nil, "recorded %s %q", r.kind.Name, title)
	return true
}

func (r *Recorder) appendToLog(title, body string, now time.Time) error {
	entry := fmt.Sprintf("## [%s] %s\n\n%s\n", now.Format(timestampLayout), title, body)

	data, err := os.ReadFile(r.logPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		data = []byte("# " + r.kind.Title + "\n\n" + r.kind.Placeholder + "\n")
	}
	log := string(data)

	if strings.Contains(log, r.kind.Placeholder) {
		log = strings.Replace(log, r.kind.Placeholder, strings.TrimRight(entry, "\n"), 1)
	} else {
		if !strings.HasSuffix(log, "\n") {
			log += "\n"
		}
		log += "\n" + entry
	}

	return os.WriteFile(r.logPath, []byte(log), 0o644)
}

// Count returns the number of recorded individual files.
func (r *Recorder) Count() int {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || e.Name() == r.kind.Log || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		n++
	}
	return n
}

// ReadLog returns the aggregate log text, or "" when it does not exist yet.
func (r *Recorder) ReadLog() string {
	data, err := os.ReadFile(r.logPath)
	if err != nil {
		return ""
	}
	return string(data)
}

// Discovery is the single-slot declaration artifact. Every declaration
// overwrites the previous one; there is no history.
type Discovery struct {
	path   string
	logger *logging.Logger
	clock  func() time.Time
}

// NewDiscovery creates the single-slot artifact at path.
func NewDiscovery(path string, opts ...Option) *Discovery {
	o := applyOptions(opts)
	return &Discovery{
		path:   path,
		logger: o.logger,
		clock:  o.clock,
	}
}

// Path returns the declaration file path.
func (d *Discovery) Path() string {
	return d.path
}

// Declare overwrites the declaration file with the given content. Failures
// are logged and reported as false.
func (d *Discovery) Declare(content string) bool {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		d.logger.Error(nil, "failed to create discovery directory: %v", err)
		return false
	}

	text := fmt.Sprintf("DISCOVERY DECLARATION\nDeclared at: %s\n\n%s\n",
		d.clock().Format(timestampLayout), content)
	if err := os.WriteFile(d.path, []byte(text), 0o644); err != nil {
		d.logger.Error(nil, "failed to write discovery file %s: %v", d.path, err)
		return false
	}

	d.logger.Info(nil, "discovery declaration recorded")
	return true
}

// Read returns the current declaration and whether one exists.
func (d *Discovery) Read() (string, bool) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return "", false
	}
	return string(data), true
}
