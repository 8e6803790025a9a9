package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/config"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionFlags_Apply(t *testing.T) {
	base := config.DefaultConfig()
	base.Backoff = &config.BackoffConfig{Kind: "linear", DelayMs: 200}

	t.Run("unset flags keep the config", func(t *testing.T) {
		cfg, err := (&executionFlags{}).apply(base)
		require.NoError(t, err)
		assert.Equal(t, base.Concurrency, cfg.Concurrency)
		assert.Equal(t, "linear", cfg.Backoff.Kind)
		assert.False(t, cfg.GetIsolateCategories())
	})

	t.Run("set flags win", func(t *testing.T) {
		flags := &executionFlags{
			environment:       "staging",
			concurrency:       8,
			maxAttempts:       3,
			backoff:           "exponential",
			backoffMax:        "5s",
			timeout:           "1m",
			isolateCategories: true,
			verbose:           true,
		}
		cfg, err := flags.apply(base)
		require.NoError(t, err)
		assert.Equal(t, "staging", cfg.DefaultEnvironment)
		assert.Equal(t, 8, cfg.Concurrency)
		assert.Equal(t, 3, cfg.MaxAttempts)
		assert.Equal(t, &config.BackoffConfig{Kind: "exponential", DelayMs: 200, MaxDelayMs: 5000}, cfg.Backoff)
		assert.Equal(t, time.Minute, cfg.TimeoutDuration())
		assert.True(t, cfg.GetIsolateCategories())
		assert.True(t, cfg.GetVerbose())

		// The base config is not modified.
		assert.Equal(t, "linear", base.Backoff.Kind)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := (&executionFlags{timeout: "soon"}).apply(base)
		assert.ErrorContains(t, err, "--timeout")
		_, err = (&executionFlags{backoffDelay: "-1s"}).apply(base)
		assert.ErrorContains(t, err, "must not be negative")
		_, err = (&executionFlags{concurrency: -2}).apply(base)
		assert.Error(t, err)
	})
}

func TestSuiteDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DefaultCategory = "API"
	cfg.DefaultExecutor = "api"
	cfg.MaxAttempts = 3
	cfg.Backoff = &config.BackoffConfig{Kind: "exponential", DelayMs: 100, MaxDelayMs: 1000}

	d, err := suiteDefaults(cfg)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryAPI, d.Category)
	assert.Equal(t, "api", d.Executor)
	assert.Equal(t, 30*time.Second, d.Timeout)
	assert.Equal(t, 3, d.Retry.MaxAttempts)
	assert.Equal(t, model.BackoffExponential, d.Retry.Backoff.Kind)
	assert.Equal(t, 100*time.Millisecond, d.Retry.Backoff.Base)
	assert.Equal(t, time.Second, d.Retry.Backoff.Max)

	cfg.DefaultCategory = "perf"
	_, err = suiteDefaults(cfg)
	assert.ErrorContains(t, err, "defaultCategory")
}

func TestSelectionFlags_Filter(t *testing.T) {
	s := &selectionFlags{tags: "smoke, payments", category: "api,security", name: "checkout*"}
	f, err := s.filter()
	require.NoError(t, err)
	assert.Equal(t, []string{"smoke", "payments"}, f.Tags)
	assert.Equal(t, []model.Category{model.CategoryAPI, model.CategorySecurity}, f.Categories)
	assert.Equal(t, "checkout*", f.Name)

	_, err = (&selectionFlags{category: "perf"}).filter()
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, exitCode(nil))
	assert.Equal(t, ExitTestFailure, exitCode(errors.New("boom")))
	assert.Equal(t, ExitParseError, exitCode(exitWith(ExitParseError, errors.New("bad suite"))))

	wrapped := errors.Join(errors.New("context"), exitWith(ExitConfigError, nil))
	assert.Equal(t, ExitConfigError, exitCode(wrapped))
	assert.Equal(t, "exit status 3", exitWith(ExitConfigError, nil).Error())
}
