package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abdul-hamid-achik/qarun/packages/core/config"
	"github.com/abdul-hamid-achik/qarun/packages/suite"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new qarun project",
	Long: `Initialize a new qarun project in the current directory.

This creates:
  - .qarun.config.json      - Configuration file with environments
  - suites/example.qa.yaml  - Example suite with an API and a UI unit

Examples:
  qarun init
  qarun init --force`,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

// exampleSuite has one API unit with checks and one UI unit driven through
// the command executor.
func exampleSuite() map[string]any {
	return map[string]any{
		"name":     "Example",
		"category": "api",
		"executor": "api",
		"tags":     []string{"smoke"},
		"timeout":  "10s",
		"retry": map[string]any{
			"maxAttempts": 3,
			"backoff":     "exponential",
			"delay":       "500ms",
			"maxDelay":    "5s",
		},
		"tests": []map[string]any{
			{
				"name": "Health check",
				"request": map[string]any{
					"method": "GET",
					"url":    "{{baseUrl}}/health",
				},
				"expect": []map[string]any{
					{"subject": "status", "value": 200},
					{"subject": "duration", "op": "lt", "value": 1000},
				},
			},
			{
				"name": "Create resource",
				"tags": []string{"crud"},
				"request": map[string]any{
					"method":  "POST",
					"url":     "{{baseUrl}}/resources",
					"headers": map[string]string{"Content-Type": "application/json"},
					"body":    map[string]any{"name": "Test Resource"},
				},
				"expect": []map[string]any{
					{"subject": "status", "value": 201},
					{"subject": "body.id", "op": "exists"},
				},
			},
			{
				"name":     "Login page",
				"category": "ui",
				"executor": "command",
				"command":  "npx playwright test login.spec.ts --reporter=line",
				"browser":  "chromium",
			},
		},
	}
}

func initCommand(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	configFile := filepath.Join(cwd, config.ConfigFilenames[0])
	suiteFile := filepath.Join(cwd, "suites", "example"+suite.Extensions[0])

	if !forceInit {
		for _, f := range []string{configFile, suiteFile} {
			if _, err := os.Stat(f); err == nil {
				return exitWith(ExitUsageError, fmt.Errorf("file already exists: %s (use --force to overwrite)", f))
			}
		}
	}

	cfg := config.DefaultConfig()
	cfg.HistoryDB = "sqlite://qarun-results/history.db"
	cfg.Environments = map[string]map[string]any{
		"dev":     {"baseUrl": "http://localhost:3000", "browser": "chromium"},
		"staging": {"baseUrl": "https://staging.api.example.com", "browser": "chromium"},
		"prod":    {"baseUrl": "https://api.example.com", "browser": "chromium"},
	}
	if err := cfg.SaveConfig(configFile); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", configFile)

	data, err := yaml.Marshal(exampleSuite())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(suiteFile), 0755); err != nil {
		return fmt.Errorf("failed to create suites directory: %w", err)
	}
	if err := os.WriteFile(suiteFile, data, 0644); err != nil {
		return fmt.Errorf("failed to create example suite: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", suiteFile)

	fmt.Fprintf(cmd.OutOrStdout(), "\nqarun project initialized!\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Run 'qarun run suites' to execute the example suite.\n")
	return nil
}
