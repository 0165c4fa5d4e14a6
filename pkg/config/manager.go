package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Source is one configuration layer. Higher priority overrides lower.
type Source interface {
	Load(config *Config) error
	Name() string
	Priority() int
}

// Manager handles configuration loading and validation.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	sources  []Source
	validate *validator.Validate
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager) error

// WithConfigPath adds a YAML file source for the given path.
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) error {
		m.sources = append(m.sources, NewFileSource(path))
		return nil
	}
}

// WithSources replaces the configuration sources.
func WithSources(sources ...Source) ManagerOption {
	return func(m *Manager) error {
		m.sources = sources
		return nil
	}
}

// NewManager creates a configuration manager. Without options it reads only
// the environment over the built-in defaults.
func NewManager(options ...ManagerOption) (*Manager, error) {
	m := &Manager{
		validate: validator.New(),
	}

	for _, opt := range options {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("failed to apply manager option: %w", err)
		}
	}

	hasEnv := false
	for _, s := range m.sources {
		if s.Name() == "environment" {
			hasEnv = true
		}
	}
	if !hasEnv {
		m.sources = append(m.sources, NewEnvironmentSource())
	}

	return m, nil
}

// Load builds the configuration: defaults, then each source in priority
// order, then validation.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	config := Default()

	sources := make([]Source, len(m.sources))
	copy(sources, m.sources)
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority() < sources[j].Priority()
	})

	for _, source := range sources {
		if err := source.Load(config); err != nil {
			return fmt.Errorf("failed to load from source %s: %w", source.Name(), err)
		}
	}

	if err := m.validate.Struct(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = config
	return nil
}

// Get returns the loaded configuration, or nil before Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Load is the package-level convenience: defaults + optional YAML file +
// environment, validated.
func Load(path string) (*Config, error) {
	var opts []ManagerOption
	if path != "" {
		opts = append(opts, WithConfigPath(path))
	}

	m, err := NewManager(opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m.Get(), nil
}

// FileSource loads configuration from a YAML file.
type FileSource struct {
	path     string
	priority int
}

// NewFileSource creates a file source with the default file priority.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, priority: 100}
}

func (fs *FileSource) Name() string {
	return "file"
}

func (fs *FileSource) Priority() int {
	return fs.priority
}

// Load parses the YAML file over the existing config. A missing file is not
// an error; a malformed one is.
func (fs *FileSource) Load(config *Config) error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", fs.path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML from %s: %w", fs.path, err)
	}
	return nil
}

// EnvironmentSource overrides selected fields from KEPLER_* variables.
type EnvironmentSource struct {
	priority int
	prefix   string
}

// NewEnvironmentSource creates an environment source that overrides file
// values.
func NewEnvironmentSource() *EnvironmentSource {
	return &EnvironmentSource{priority: 200, prefix: "KEPLER_"}
}

func (es *EnvironmentSource) Name() string {
	return "environment"
}

func (es *EnvironmentSource) Priority() int {
	return es.priority
}

func (es *EnvironmentSource) Load(config *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(es.prefix + key); ok {
			*dst = v
		}
	}

	setString("AGENT_NAME", &config.Agent.Name)
	setString("AGENT_GOAL", &config.Agent.Goal)
	setString("AGENT_TASK_FOCUS", &config.Agent.TaskFocus)
	setString("MODEL_PROVIDER", &config.Model.Provider)
	setString("MODEL_ID", &config.Model.ModelID)
	setString("MODEL_API_KEY", &config.Model.APIKey)
	setString("MODEL_BASE_URL", &config.Model.BaseURL)
	setString("FINETUNE_API_KEY", &config.FineTune.APIKey)
	setString("SEARCH_BASE_URL", &config.Search.BaseURL)
	setString("SEARCH_API_KEY", &config.Search.APIKey)
	setString("DASHBOARD_HOST", &config.Dashboard.Host)
	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FILE", &config.Logging.File)

	if v, ok := os.LookupEnv(es.prefix + "DASHBOARD_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sDASHBOARD_PORT %q: %w", es.prefix, v, err)
		}
		config.Dashboard.Port = port
	}

	return nil
}
