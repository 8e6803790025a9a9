package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/config"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/abdul-hamid-achik/qarun/packages/suite"
	"github.com/spf13/cobra"
)

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// selectionFlags are shared by run, list and validate.
type selectionFlags struct {
	config   string
	tags     string
	category string
	name     string
}

func (s *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.config, "config", getEnvString("QARUN_CONFIG", ""), "Path to config file (env: QARUN_CONFIG)")
	cmd.Flags().StringVarP(&s.tags, "tags", "t", getEnvString("QARUN_TAGS", ""), "Select units with any of these tags (comma-separated) (env: QARUN_TAGS)")
	cmd.Flags().StringVarP(&s.category, "category", "c", getEnvString("QARUN_CATEGORY", ""), "Select units in these categories: ui, api, integration, security (env: QARUN_CATEGORY)")
	cmd.Flags().StringVarP(&s.name, "name", "n", "", "Select units whose name or id matches (glob or substring)")
}

func (s *selectionFlags) filter() (suite.Filter, error) {
	cats, err := suite.ParseCategories(splitList(s.category))
	if err != nil {
		return suite.Filter{}, err
	}
	return suite.Filter{
		Tags:       splitList(s.tags),
		Categories: cats,
		Name:       s.name,
	}, nil
}

// executionFlags override the config file for a run. Zero values keep the
// configured setting.
type executionFlags struct {
	environment       string
	envFile           string
	concurrency       int
	maxAttempts       int
	backoff           string
	backoffDelay      string
	backoffMax        string
	timeout           string
	isolateCategories bool
	dispatchRate      float64
	outputDir         string
	artifactDir       string
	historyDB         string
	shell             string
	logLevel          string
	verbose           bool
	noColor           bool
}

func (e *executionFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&e.environment, "env", "e", getEnvString("QARUN_ENV", ""), "Environment to use (env: QARUN_ENV)")
	f.StringVar(&e.envFile, "env-file", getEnvString("QARUN_ENV_FILE", ""), "Path to .env file for variable interpolation (env: QARUN_ENV_FILE)")
	f.IntVar(&e.concurrency, "concurrency", getEnvInt("QARUN_CONCURRENCY", 0), "Number of units run at the same time (env: QARUN_CONCURRENCY)")
	f.IntVar(&e.maxAttempts, "max-attempts", getEnvInt("QARUN_MAX_ATTEMPTS", 0), "Attempts per unit, including the first (env: QARUN_MAX_ATTEMPTS)")
	f.StringVar(&e.backoff, "backoff", getEnvString("QARUN_BACKOFF", ""), "Backoff between attempts: constant, linear, exponential (env: QARUN_BACKOFF)")
	f.StringVar(&e.backoffDelay, "backoff-delay", getEnvString("QARUN_BACKOFF_DELAY", ""), "Base backoff delay (e.g., 500ms, 2s) (env: QARUN_BACKOFF_DELAY)")
	f.StringVar(&e.backoffMax, "backoff-max", getEnvString("QARUN_BACKOFF_MAX", ""), "Maximum backoff delay (env: QARUN_BACKOFF_MAX)")
	f.StringVar(&e.timeout, "timeout", getEnvString("QARUN_TIMEOUT", ""), "Per-attempt timeout (e.g., 30s, 1m) (env: QARUN_TIMEOUT)")
	f.BoolVar(&e.isolateCategories, "isolate-categories", getEnvBool("QARUN_ISOLATE_CATEGORIES", false), "Run each category as its own group, one after another (env: QARUN_ISOLATE_CATEGORIES)")
	f.Float64Var(&e.dispatchRate, "dispatch-rate", getEnvFloat("QARUN_DISPATCH_RATE", 0), "Maximum units started per second, 0 for unlimited (env: QARUN_DISPATCH_RATE)")
	f.StringVar(&e.outputDir, "output-dir", getEnvString("QARUN_OUTPUT_DIR", ""), "Directory for reports and bug tickets (env: QARUN_OUTPUT_DIR)")
	f.StringVar(&e.artifactDir, "artifact-dir", getEnvString("QARUN_ARTIFACT_DIR", ""), "Directory for screenshots, traces and response bodies (env: QARUN_ARTIFACT_DIR)")
	f.StringVar(&e.historyDB, "history-db", getEnvString("QARUN_HISTORY_DB", ""), "SQLite database for run history (e.g., sqlite://qarun.db) (env: QARUN_HISTORY_DB)")
	f.StringVar(&e.shell, "shell", getEnvString("QARUN_SHELL", ""), "Shell used by the command executor (env: QARUN_SHELL)")
	f.StringVar(&e.logLevel, "log-level", getEnvString("QARUN_LOG_LEVEL", ""), "Log level: debug, info, warn, error (env: QARUN_LOG_LEVEL)")
	f.BoolVarP(&e.verbose, "verbose", "v", getEnvBool("QARUN_VERBOSE", false), "Show attempts, steps and artifacts (env: QARUN_VERBOSE)")
	f.BoolVar(&e.noColor, "no-color", getEnvBool("QARUN_NO_COLOR", false), "Disable colored output (env: QARUN_NO_COLOR)")
}

func parseMillis(flag, value string) (int, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w (use format like 30s, 1m, 500ms)", flag, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", flag, value)
	}
	return int(d / time.Millisecond), nil
}

// apply returns a copy of cfg with the flags that were set taking precedence.
func (e *executionFlags) apply(cfg *config.Config) (*config.Config, error) {
	override := &config.Config{
		DefaultEnvironment: e.environment,
		Concurrency:        e.concurrency,
		MaxAttempts:        e.maxAttempts,
		DispatchRate:       e.dispatchRate,
		OutputDir:          e.outputDir,
		ArtifactDir:        e.artifactDir,
		HistoryDB:          e.historyDB,
		Shell:              e.shell,
		LogLevel:           e.logLevel,
	}
	if e.concurrency < 0 || e.maxAttempts < 0 || e.dispatchRate < 0 {
		return nil, fmt.Errorf("--concurrency, --max-attempts and --dispatch-rate must not be negative")
	}

	if e.backoff != "" || e.backoffDelay != "" || e.backoffMax != "" {
		override.Backoff = &config.BackoffConfig{Kind: e.backoff}
		var err error
		if e.backoffDelay != "" {
			if override.Backoff.DelayMs, err = parseMillis("--backoff-delay", e.backoffDelay); err != nil {
				return nil, err
			}
		}
		if e.backoffMax != "" {
			if override.Backoff.MaxDelayMs, err = parseMillis("--backoff-max", e.backoffMax); err != nil {
				return nil, err
			}
		}
	}
	if e.timeout != "" {
		ms, err := parseMillis("--timeout", e.timeout)
		if err != nil {
			return nil, err
		}
		override.Timeout = ms
	}

	if e.isolateCategories {
		override.IsolateCategories = config.BoolPtr(true)
	}
	if e.verbose {
		override.Verbose = config.BoolPtr(true)
	}
	if e.noColor {
		override.NoColor = config.BoolPtr(true)
	}

	merged := cfg.Merge(override)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// loadConfig reads the config file named by --config, or the one found in
// the working directory.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, exitWith(ExitConfigError, err)
	}
	return cfg, nil
}

// suiteDefaults converts the configured defaults into what suite files
// inherit.
func suiteDefaults(cfg *config.Config) (suite.Defaults, error) {
	d := suite.Defaults{
		Executor: cfg.DefaultExecutor,
		Timeout:  cfg.TimeoutDuration(),
	}
	if cfg.DefaultCategory != "" {
		c, err := model.ParseCategory(cfg.DefaultCategory)
		if err != nil {
			return d, fmt.Errorf("defaultCategory: %w", err)
		}
		d.Category = c
	}

	var backoff config.BackoffConfig
	if cfg.Backoff != nil {
		backoff = *cfg.Backoff
	}
	kind, err := model.ParseBackoffKind(backoff.Kind)
	if err != nil {
		return d, fmt.Errorf("backoff: %w", err)
	}
	d.Retry = model.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: model.Backoff{
			Kind: kind,
			Base: time.Duration(backoff.DelayMs) * time.Millisecond,
			Max:  time.Duration(backoff.MaxDelayMs) * time.Millisecond,
		},
	}
	return d, nil
}

// loadUnits loads every suite under paths and applies the selection.
func loadUnits(paths []string, cfg *config.Config, sel *selectionFlags) ([]*model.TestUnit, error) {
	defaults, err := suiteDefaults(cfg)
	if err != nil {
		return nil, exitWith(ExitConfigError, err)
	}
	filter, err := sel.filter()
	if err != nil {
		return nil, exitWith(ExitUsageError, err)
	}
	units, err := suite.Load(paths, defaults)
	if err != nil {
		return nil, exitWith(ExitParseError, err)
	}
	return filter.Apply(units), nil
}
