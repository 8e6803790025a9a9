package config

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultEnvironment: "dev",
		Concurrency:        4,
		MaxAttempts:        1,
		Backoff:            &BackoffConfig{Kind: "constant", DelayMs: 1000},
		Timeout:            30000, // 30 seconds
		Reporters:          []string{"console"},
		OutputDir:          "qarun-results",
		Shell:              "sh",
		LogLevel:           "warn",
		Verbose:            BoolPtr(false),
		NoColor:            BoolPtr(false),
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	d := DefaultConfig()
	return c.DefaultEnvironment == d.DefaultEnvironment &&
		c.Concurrency == d.Concurrency &&
		c.MaxAttempts == d.MaxAttempts &&
		c.Backoff != nil && *c.Backoff == *d.Backoff &&
		c.Timeout == d.Timeout &&
		c.DispatchRate == 0 &&
		!c.GetIsolateCategories() &&
		c.OutputDir == d.OutputDir &&
		c.ArtifactDir == "" &&
		c.HistoryDB == "" &&
		len(c.ElevationRules) == 0 &&
		len(c.NormalizationRules) == 0 &&
		len(c.Environments) == 0 &&
		c.Notify == nil &&
		c.GetVerbose() == d.GetVerbose() &&
		c.GetNoColor() == d.GetNoColor()
}
