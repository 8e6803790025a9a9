package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.True(t, c.IsDefault())
	assert.Equal(t, 4, c.Concurrency)
	assert.Equal(t, 30*time.Second, c.TimeoutDuration())
	assert.False(t, c.GetVerbose())
	assert.NoError(t, c.Validate())
}

func TestFindAndLoadConfig(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		c, err := FindAndLoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.True(t, c.IsDefault())
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		content := `{
  "concurrency": 8,
  "backoff": {"kind": "exponential", "delayMs": 200},
  "isolateCategories": true,
  "elevationRules": ["payment"],
  "normalizationRules": [{"pattern": "order-\\d+", "replace": "order-<n>"}],
  "environments": {"staging": {"baseUrl": "https://staging.example.com"}},
  "notify": {"on": "failure", "slackWebhook": "https://hooks.example.com/x"}
}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".qarunrc"), []byte(content), 0644))

		c, err := FindAndLoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, 8, c.Concurrency)
		assert.Equal(t, 1, c.MaxAttempts, "unset fields keep defaults")
		assert.Equal(t, "exponential", c.Backoff.Kind)
		assert.True(t, c.GetIsolateCategories())
		assert.Equal(t, "order-<n>", c.NormalizationRules[0].Replace)
		assert.Equal(t, "https://staging.example.com", c.Environments["staging"]["baseUrl"])
		assert.Equal(t, "failure", c.Notify.On)
		assert.False(t, c.IsDefault())
	})
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "parsing config")

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"notify": {"on": "sometimes"}}`), 0644))
	_, err = LoadConfig(invalid)
	assert.ErrorContains(t, err, "notify.on")
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Environments = map[string]map[string]any{"dev": {"baseUrl": "http://localhost"}}

	merged := base.Merge(&Config{
		Concurrency:  2,
		Backoff:      &BackoffConfig{MaxDelayMs: 5000},
		NoColor:      BoolPtr(true),
		Environments: map[string]map[string]any{"ci": {"baseUrl": "http://ci"}},
	})

	assert.Equal(t, 2, merged.Concurrency)
	assert.Equal(t, 30000, merged.Timeout)
	assert.Equal(t, "constant", merged.Backoff.Kind)
	assert.Equal(t, 1000, merged.Backoff.DelayMs)
	assert.Equal(t, 5000, merged.Backoff.MaxDelayMs)
	assert.True(t, merged.GetNoColor())
	assert.Len(t, merged.Environments, 2)

	assert.Equal(t, 4, base.Concurrency, "merge does not modify the receiver")
	assert.Equal(t, 0, base.Backoff.MaxDelayMs)
	assert.Same(t, base, base.Merge(nil))
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qarun.config.json")
	c := DefaultConfig()
	c.MaxAttempts = 3
	require.NoError(t, c.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.MaxAttempts)
}
