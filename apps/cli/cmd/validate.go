package cmd

import (
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/qarun/packages/executor"
	"github.com/abdul-hamid-achik/qarun/packages/suite"
	"github.com/spf13/cobra"
)

var validateConfig string

var validateCmd = &cobra.Command{
	Use:   "validate <suite file|directory>...",
	Short: "Validate suite files without running them",
	Long: `Validate suite files and the config file without executing any unit.

Every file is parsed with the configured defaults. Unit ids must be unique
across all files and every unit must name a known executor.

Examples:
  qarun validate ./suites
  qarun validate checkout.qa.yaml --config ci.qarun.config.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

func init() {
	validateCmd.Flags().StringVar(&validateConfig, "config", getEnvString("QARUN_CONFIG", ""), "Path to config file (env: QARUN_CONFIG)")
}

func validateCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(validateConfig)
	if err != nil {
		return err
	}
	defaults, err := suiteDefaults(cfg)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}

	files, err := suite.Discover(args)
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	if len(files) == 0 {
		return exitWith(ExitUsageError, errors.New("no .qa.yaml files found"))
	}

	known := map[string]bool{executor.APIName: true, executor.CommandName: true}
	seen := make(map[string]string)
	hasErrors := false
	for _, file := range files {
		units, err := suite.LoadFile(file, defaults)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}

		valid := true
		for _, u := range units {
			if prev, dup := seen[u.ID]; dup {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: duplicate unit id %q (first defined in %s)\n", file, u.ID, prev)
				valid = false
				continue
			}
			seen[u.ID] = file
			if !known[u.Executor] {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: unit %s uses unknown executor %q\n", file, u.ID, u.Executor)
				valid = false
			}
		}
		if valid {
			fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s (%d unit(s))\n", file, len(units))
		} else {
			hasErrors = true
		}
	}

	if hasErrors {
		return exitWith(ExitParseError, errors.New("validation failed"))
	}
	return nil
}
