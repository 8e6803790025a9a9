package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the qarun configuration file.
type Config struct {
	DefaultEnvironment string `json:"defaultEnvironment,omitempty"`
	DefaultCategory    string `json:"defaultCategory,omitempty"`
	DefaultExecutor    string `json:"defaultExecutor,omitempty"`

	Concurrency       int            `json:"concurrency,omitempty"`
	MaxAttempts       int            `json:"maxAttempts,omitempty"`
	Backoff           *BackoffConfig `json:"backoff,omitempty"`
	Timeout           int            `json:"timeoutMs,omitempty"` // milliseconds
	IsolateCategories *bool          `json:"isolateCategories,omitempty"`
	DispatchRate      float64        `json:"dispatchRate,omitempty"` // units started per second

	Reporters   []string `json:"reporters,omitempty"`
	OutputDir   string   `json:"outputDir,omitempty"`
	ArtifactDir string   `json:"artifactDir,omitempty"`
	HistoryDB   string   `json:"historyDB,omitempty"`

	ElevationRules     []string            `json:"elevationRules,omitempty"`
	NormalizationRules []NormalizationRule `json:"normalizationRules,omitempty"`

	Environments map[string]map[string]any `json:"environments,omitempty"`
	Notify       *NotifyConfig             `json:"notify,omitempty"`

	Shell    string `json:"shell,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`
	Verbose  *bool  `json:"verbose,omitempty"`
	NoColor  *bool  `json:"noColor,omitempty"`
}

type BackoffConfig struct {
	Kind       string `json:"kind,omitempty"`
	DelayMs    int    `json:"delayMs,omitempty"`
	MaxDelayMs int    `json:"maxDelayMs,omitempty"`
}

// NormalizationRule replaces every match of Pattern in failure messages
// before they are fingerprinted.
type NormalizationRule struct {
	Pattern string `json:"pattern"`
	Replace string `json:"replace"`
}

type NotifyConfig struct {
	On           string `json:"on,omitempty"` // always, failure, success, recovery
	SlackWebhook string `json:"slackWebhook,omitempty"`
	SlackChannel string `json:"slackChannel,omitempty"`
	TeamsWebhook string `json:"teamsWebhook,omitempty"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetVerbose defaults to false.
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor defaults to false.
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetIsolateCategories defaults to false.
func (c *Config) GetIsolateCategories() bool {
	return getBool(c.IsolateCategories, false)
}

// TimeoutDuration converts the per-attempt timeout to a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// Validate rejects values the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("maxAttempts must be positive, got %d", c.MaxAttempts)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeoutMs must not be negative, got %d", c.Timeout)
	}
	if c.DispatchRate < 0 {
		return fmt.Errorf("dispatchRate must not be negative, got %g", c.DispatchRate)
	}
	if c.Backoff != nil && (c.Backoff.DelayMs < 0 || c.Backoff.MaxDelayMs < 0) {
		return fmt.Errorf("backoff delays must not be negative")
	}
	if c.Notify != nil {
		switch c.Notify.On {
		case "", "always", "failure", "success", "recovery":
		default:
			return fmt.Errorf("notify.on must be always, failure, success or recovery, got %q", c.Notify.On)
		}
	}
	return nil
}

// ConfigFilenames are searched in order.
var ConfigFilenames = []string{
	".qarun.config.json",
	"qarun.config.json",
	".qarunrc",
	".qarunrc.json",
}

// LoadConfig loads path, or searches the working directory when path is
// empty.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig returns DefaultConfig when dir has no config file.
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}
	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Merge returns a copy of c with every field set in other taking precedence.
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c

	if other.DefaultEnvironment != "" {
		result.DefaultEnvironment = other.DefaultEnvironment
	}
	if other.DefaultCategory != "" {
		result.DefaultCategory = other.DefaultCategory
	}
	if other.DefaultExecutor != "" {
		result.DefaultExecutor = other.DefaultExecutor
	}
	if other.Concurrency > 0 {
		result.Concurrency = other.Concurrency
	}
	if other.MaxAttempts > 0 {
		result.MaxAttempts = other.MaxAttempts
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.DispatchRate > 0 {
		result.DispatchRate = other.DispatchRate
	}
	if other.OutputDir != "" {
		result.OutputDir = other.OutputDir
	}
	if other.ArtifactDir != "" {
		result.ArtifactDir = other.ArtifactDir
	}
	if other.HistoryDB != "" {
		result.HistoryDB = other.HistoryDB
	}
	if other.Shell != "" {
		result.Shell = other.Shell
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}

	if other.Backoff != nil {
		b := BackoffConfig{}
		if result.Backoff != nil {
			b = *result.Backoff
		}
		if other.Backoff.Kind != "" {
			b.Kind = other.Backoff.Kind
		}
		if other.Backoff.DelayMs > 0 {
			b.DelayMs = other.Backoff.DelayMs
		}
		if other.Backoff.MaxDelayMs > 0 {
			b.MaxDelayMs = other.Backoff.MaxDelayMs
		}
		result.Backoff = &b
	}

	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}
	if other.IsolateCategories != nil {
		result.IsolateCategories = other.IsolateCategories
	}

	if len(other.Reporters) > 0 {
		result.Reporters = other.Reporters
	}
	if len(other.ElevationRules) > 0 {
		result.ElevationRules = other.ElevationRules
	}
	if len(other.NormalizationRules) > 0 {
		result.NormalizationRules = other.NormalizationRules
	}
	if other.Notify != nil {
		result.Notify = other.Notify
	}

	if len(other.Environments) > 0 {
		envs := make(map[string]map[string]any, len(result.Environments)+len(other.Environments))
		for name, vars := range result.Environments {
			envs[name] = vars
		}
		for name, vars := range other.Environments {
			envs[name] = vars
		}
		result.Environments = envs
	}

	return &result
}

// SaveConfig writes c as indented JSON.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
