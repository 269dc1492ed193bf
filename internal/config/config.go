// Package config provides configuration loading and validation for the
// journey server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/career-journey/internal/types"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	// ProviderDryRun serves canned artifacts without calling a model.
	ProviderDryRun = "dry_run"
)

// Config is loaded from a JSON or YAML file and overlaid with environment
// variables. All fields are optional; Defaults fills the rest.
type Config struct {
	// Server
	ListenAddr     string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	GenerationRate int    `json:"generation_rate,omitempty" yaml:"generation_rate,omitempty"` // Generation requests per client per hour on each generating endpoint

	// Storage
	StoreBackend string `json:"store_backend,omitempty" yaml:"store_backend,omitempty"` // memory, postgres or sqlite
	DatabaseURL  string `json:"database_url,omitempty" yaml:"database_url,omitempty"`   // PostgreSQL connection URL
	SQLitePath   string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`

	// Generation lock
	LockBackend string `json:"lock_backend,omitempty" yaml:"lock_backend,omitempty"` // local or redis
	RedisAddr   string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`

	// LLM
	LLMProvider   string `json:"llm_provider,omitempty" yaml:"llm_provider,omitempty"` // gemini, openai or dry_run
	GeminiAPIKey  string `json:"gemini_api_key,omitempty" yaml:"gemini_api_key,omitempty"`
	GeminiModel   string `json:"gemini_model,omitempty" yaml:"gemini_model,omitempty"` // Overrides every tier when set
	OpenAIAPIKey  string `json:"openai_api_key,omitempty" yaml:"openai_api_key,omitempty"`
	OpenAIModel   string `json:"openai_model,omitempty" yaml:"openai_model,omitempty"`
	OpenAIBaseURL string `json:"openai_base_url,omitempty" yaml:"openai_base_url,omitempty"`

	// Timeouts
	QuestionsTimeout   Duration `json:"questions_timeout,omitempty" yaml:"questions_timeout,omitempty"`
	CareerPathsTimeout Duration `json:"career_paths_timeout,omitempty" yaml:"career_paths_timeout,omitempty"`
	RoadmapTimeout     Duration `json:"roadmap_timeout,omitempty" yaml:"roadmap_timeout,omitempty"`
	TopicTimeout       Duration `json:"topic_timeout,omitempty" yaml:"topic_timeout,omitempty"`
	StoreTimeout       Duration `json:"store_timeout,omitempty" yaml:"store_timeout,omitempty"`

	// Logging
	LogMode  string `json:"log_mode,omitempty" yaml:"log_mode,omitempty"` // development or production
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// Duration reads "90s" style strings from JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.set(node.Value)
}

func (d *Duration) set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:         ":8080",
		GenerationRate:     10,
		StoreBackend:       StoreMemory,
		SQLitePath:         "journey.db",
		LockBackend:        LockLocal,
		RedisPrefix:        "journey:genlock",
		LLMProvider:        ProviderGemini,
		QuestionsTimeout:   Duration(60 * time.Second),
		CareerPathsTimeout: Duration(90 * time.Second),
		RoadmapTimeout:     Duration(5 * time.Minute),
		TopicTimeout:       Duration(60 * time.Second),
		StoreTimeout:       Duration(10 * time.Second),
		LogMode:            "production",
		LogLevel:           "info",
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// ApplyEnv overrides fields with any of the supported environment variables
// that are set. Call it after godotenv has loaded .env.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	strs := map[string]*string{
		"LISTEN_ADDR":     &c.ListenAddr,
		"STORE_BACKEND":   &c.StoreBackend,
		"DATABASE_URL":    &c.DatabaseURL,
		"SQLITE_PATH":     &c.SQLitePath,
		"LOCK_BACKEND":    &c.LockBackend,
		"REDIS_ADDR":      &c.RedisAddr,
		"REDIS_PREFIX":    &c.RedisPrefix,
		"LLM_PROVIDER":    &c.LLMProvider,
		"GEMINI_API_KEY":  &c.GeminiAPIKey,
		"GEMINI_MODEL":    &c.GeminiModel,
		"OPENAI_API_KEY":  &c.OpenAIAPIKey,
		"OPENAI_MODEL":    &c.OpenAIModel,
		"OPENAI_BASE_URL": &c.OpenAIBaseURL,
		"LOG_MODE":        &c.LogMode,
		"LOG_LEVEL":       &c.LogLevel,
	}
	for name, field := range strs {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*field = v
		}
	}

	durations := map[string]*Duration{
		"QUESTIONS_TIMEOUT":    &c.QuestionsTimeout,
		"CAREER_PATHS_TIMEOUT": &c.CareerPathsTimeout,
		"ROADMAP_TIMEOUT":      &c.RoadmapTimeout,
		"TOPIC_TIMEOUT":        &c.TopicTimeout,
		"STORE_TIMEOUT":        &c.StoreTimeout,
	}
	for name, field := range durations {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			if err := field.set(v); err != nil {
				return fmt.Errorf("config error: %s: %w", name, err)
			}
		}
	}
	return nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config error: 'database_url' is required for the postgres store")
		}
	default:
		return fmt.Errorf("config error: unknown store backend %q", c.StoreBackend)
	}

	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config error: 'redis_addr' is required for the redis lock")
		}
	default:
		return fmt.Errorf("config error: unknown lock backend %q", c.LockBackend)
	}

	switch c.LLMProvider {
	case ProviderGemini, ProviderOpenAI, ProviderDryRun:
	default:
		return fmt.Errorf("config error: unknown llm provider %q", c.LLMProvider)
	}

	if c.GenerationRate < 0 {
		return fmt.Errorf("config error: 'generation_rate' must be non-negative")
	}
	for name, d := range map[string]Duration{
		"questions_timeout":    c.QuestionsTimeout,
		"career_paths_timeout": c.CareerPathsTimeout,
		"roadmap_timeout":      c.RoadmapTimeout,
		"topic_timeout":        c.TopicTimeout,
		"store_timeout":        c.StoreTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("config error: '%s' must be non-negative", name)
		}
	}
	return nil
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderDryRun:
		return ""
	}
	return c.GeminiAPIKey
}

// Timeouts returns the per-type generation deadlines. Topic-scoped types are
// keyed by kind.
func (c *Config) Timeouts() map[types.ArtifactType]time.Duration {
	return map[types.ArtifactType]time.Duration{
		types.ArtifactQuestions:       c.QuestionsTimeout.Std(),
		types.ArtifactCareerPaths:     c.CareerPathsTimeout.Std(),
		types.ArtifactDetailedRoadmap: c.RoadmapTimeout.Std(),
		types.ArtifactTopicAssessment: c.TopicTimeout.Std(),
		types.ArtifactTopicEvaluation: c.TopicTimeout.Std(),
	}
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	for _, f := range []struct{ dst, def *string }{
		{&result.ListenAddr, &defaults.ListenAddr},
		{&result.StoreBackend, &defaults.StoreBackend},
		{&result.DatabaseURL, &defaults.DatabaseURL},
		{&result.SQLitePath, &defaults.SQLitePath},
		{&result.RedisAddr, &defaults.RedisAddr},
		{&result.RedisPrefix, &defaults.RedisPrefix},
		{&result.LLMProvider, &defaults.LLMProvider},
		{&result.GeminiAPIKey, &defaults.GeminiAPIKey},
		{&result.GeminiModel, &defaults.GeminiModel},
		{&result.OpenAIAPIKey, &defaults.OpenAIAPIKey},
		{&result.OpenAIModel, &defaults.OpenAIModel},
		{&result.OpenAIBaseURL, &defaults.OpenAIBaseURL},
		{&result.LogMode, &defaults.LogMode},
		{&result.LogLevel, &defaults.LogLevel},
	} {
		if *f.dst == "" {
			*f.dst = *f.def
		}
	}

	// A redis address without an explicit lock backend means redis.
	if result.LockBackend == "" {
		if c.RedisAddr != "" {
			result.LockBackend = LockRedis
		} else {
			result.LockBackend = defaults.LockBackend
		}
	}

	if result.GenerationRate == 0 {
		result.GenerationRate = defaults.GenerationRate
	}
	if result.QuestionsTimeout == 0 {
		result.QuestionsTimeout = defaults.QuestionsTimeout
	}
	if result.CareerPathsTimeout == 0 {
		result.CareerPathsTimeout = defaults.CareerPathsTimeout
	}
	if result.RoadmapTimeout == 0 {
		result.RoadmapTimeout = defaults.RoadmapTimeout
	}
	if result.StoreTimeout == 0 {
		result.StoreTimeout = defaults.StoreTimeout
	}
	if result.TopicTimeout == 0 {
		result.TopicTimeout = defaults.TopicTimeout
	}

	return result
}

// Load reads path (when non-empty), overlays the environment and fills
// defaults. The result is validated.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}
