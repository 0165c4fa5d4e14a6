package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "2h" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete configuration for the agent runtime.
type Config struct {
	Agent     AgentConfig     `yaml:"agent" validate:"required"`
	Model     ModelConfig     `yaml:"model" validate:"required"`
	FineTune  FineTuneConfig  `yaml:"finetune,omitempty"`
	Memory    MemoryConfig    `yaml:"memory,omitempty"`
	Artifacts ArtifactsConfig `yaml:"artifacts,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
	Articles  ArticlesConfig  `yaml:"articles,omitempty"`
	Dashboard DashboardConfig `yaml:"dashboard,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// AgentConfig holds the agent's identity and cycle cadence.
type AgentConfig struct {
	// Agent display name, used in the memory document title
	Name string `yaml:"name" validate:"required"`

	// The long-running goal driving every action cycle
	Goal string `yaml:"goal" validate:"required"`

	// Optional near-term focus appended to action prompts
	TaskFocus string `yaml:"task_focus,omitempty"`

	// Interval between action cycles
	ActionInterval Duration `yaml:"action_interval"`

	// Interval between reflection cycles
	ReflectionInterval Duration `yaml:"reflection_interval"`

	// Upper bound on search requests honored per cycle
	MaxSearchRequests int `yaml:"max_search_requests" validate:"min=0"`
}

// ModelConfig selects and parameterizes the LLM client.
type ModelConfig struct {
	// Provider name (anthropic, openai); empty means infer from model id
	Provider string `yaml:"provider,omitempty" validate:"omitempty,oneof=anthropic openai"`

	// Model id (e.g. claude-3-5-sonnet-20241022, gpt-4o-mini)
	ModelID string `yaml:"model_id" validate:"required"`

	// API key for the provider
	APIKey string `yaml:"api_key,omitempty"`

	// Base URL override for openai-compatible endpoints
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Generation parameters
	MaxTokens   int     `yaml:"max_tokens" validate:"min=1"`
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`

	// Per-request timeout
	Timeout Duration `yaml:"timeout"`
}

// FineTuneConfig controls the fine-tuning subsystem.
type FineTuneConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval between fine-tuning checks
	Interval Duration `yaml:"interval"`

	// Base model submitted with fine-tuning jobs
	BaseModel string `yaml:"base_model,omitempty"`

	// Minimum accumulated examples before a job is created
	MinExamples int `yaml:"min_examples" validate:"min=1"`

	// Most-recent examples retained after a successful job
	ExamplesToKeep int `yaml:"examples_to_keep" validate:"min=1"`

	// JSONL example accumulator path
	DataPath string `yaml:"data_path" validate:"required"`

	// Persisted model state path
	StatePath string `yaml:"state_path" validate:"required"`

	// Endpoint and key; defaults to the model client's when empty
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key,omitempty"`

	// Job polling backoff
	PollBaseInterval Duration `yaml:"poll_base_interval"`
	PollMaxInterval  Duration `yaml:"poll_max_interval"`
	MaxPolls         int      `yaml:"max_polls" validate:"min=1"`
}

// SectionRoute maps response subsection names onto one persistent memory
// section. The first accepted name present in a response wins.
type SectionRoute struct {
	Target string   `yaml:"target" validate:"required"`
	Accept []string `yaml:"accept" validate:"required,min=1"`
}

// MemoryConfig controls the persistent memory document.
type MemoryConfig struct {
	Path string `yaml:"path" validate:"required"`

	// Character budget; 0 disables compaction
	MaxChars int `yaml:"max_chars" validate:"min=0"`

	// Most-recent lines kept per unprotected section during compaction
	KeepLines int `yaml:"keep_lines" validate:"min=1"`

	// Response-to-memory section routing; defaults applied when empty
	Routes []SectionRoute `yaml:"routes,omitempty"`
}

// ArtifactsConfig controls finding/connection/discovery recording.
type ArtifactsConfig struct {
	// Directory holding findings/, connections/ and findings.txt
	Dir string `yaml:"dir" validate:"required"`
}

// SearchConfig selects and parameterizes the search provider.
type SearchConfig struct {
	// Provider: http, mcp, or none
	Provider string `yaml:"provider,omitempty" validate:"omitempty,oneof=http mcp none"`

	// HTTP provider: SearXNG-style JSON endpoint
	BaseURL      string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey       string `yaml:"api_key,omitempty"`
	APIKeyHeader string `yaml:"api_key_header,omitempty"`

	// MCP provider: server subprocess and tool name
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Tool    string   `yaml:"tool,omitempty"`

	MaxResults int      `yaml:"max_results" validate:"min=1"`
	Timeout    Duration `yaml:"timeout"`
}

// ArticlesConfig controls the article curation store.
type ArticlesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required"`
}

// DashboardConfig controls the read-only web dashboard.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port" validate:"min=0,max=65535"`
}

// LoggingConfig controls log level and optional file output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// DefaultSectionRoutes is the built-in response-to-memory routing table.
func DefaultSectionRoutes() []SectionRoute {
	return []SectionRoute{
		{Target: "Progress Summary", Accept: []string{"Progress Assessment", "Observations"}},
		{Target: "Recent Actions and Outcomes", Accept: []string{"Outcome and Learning Report", "Execute Action"}},
		{Target: "Research Topics", Accept: []string{"Research Topics", "Topics to Explore"}},
		{Target: "Next Steps and Planning", Accept: []string{"Next Steps", "Next Action"}},
		{Target: "Insights and Learnings", Accept: []string{"Learnings", "Insights"}},
	}
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:               "Kepler",
			Goal:               "Discover a new physical law or a novel connection between existing physical theories.",
			ActionInterval:     Duration(2 * time.Hour),
			ReflectionInterval: Duration(24 * time.Hour),
			MaxSearchRequests:  3,
		},
		Model: ModelConfig{
			ModelID:     "claude-3-5-sonnet-20241022",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     Duration(2 * time.Minute),
		},
		FineTune: FineTuneConfig{
			Enabled:          false,
			Interval:         Duration(24 * time.Hour),
			BaseModel:        "gpt-4o",
			MinExamples:      50,
			ExamplesToKeep:   1000,
			DataPath:         "data/fine_tuning_data.jsonl",
			StatePath:        "data/model_state.json",
			PollBaseInterval: Duration(30 * time.Second),
			PollMaxInterval:  Duration(10 * time.Minute),
			MaxPolls:         40,
		},
		Memory: MemoryConfig{
			Path:      "data/memory.txt",
			MaxChars:  32000,
			KeepLines: 20,
		},
		Artifacts: ArtifactsConfig{
			Dir: "data",
		},
		Search: SearchConfig{
			Provider:   "none",
			MaxResults: 5,
			Timeout:    Duration(30 * time.Second),
		},
		Articles: ArticlesConfig{
			Enabled: false,
			Path:    "data/articles.db",
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SectionRoutes returns the configured routing table, falling back to the
// default one.
func (m MemoryConfig) SectionRoutes() []SectionRoute {
	if len(m.Routes) > 0 {
		return m.Routes
	}
	return DefaultSectionRoutes()
}
