package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listSelection selectionFlags

var listCmd = &cobra.Command{
	Use:   "list <suite file|directory>...",
	Short: "List the test units in suite files",
	Long: `List the test units defined in .qa.yaml suite files, after applying
the same selection flags as run.

Examples:
  qarun list ./suites
  qarun list ./suites --category security
  qarun list ./suites --tags smoke --name "checkout*"`,
	Args: cobra.MinimumNArgs(1),
	RunE: listCommand,
}

func init() {
	listSelection.register(listCmd)
}

func listCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(listSelection.config)
	if err != nil {
		return err
	}
	units, err := loadUnits(args, cfg, &listSelection)
	if err != nil {
		return err
	}

	source := ""
	for _, u := range units {
		if u.Source != source {
			source = u.Source
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s:\n", source)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s [%s] (%s)\n", u.ID, u.Category, u.Executor)
		if u.Name != "" && u.Name != u.ID {
			fmt.Fprintf(cmd.OutOrStdout(), "    name: %s\n", u.Name)
		}
		if len(u.Tags) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "    tags: %s\n", strings.Join(u.Tags, ", "))
		}
		if n := u.Retry.Attempts(); n > 1 {
			fmt.Fprintf(cmd.OutOrStdout(), "    attempts: %d (%s backoff)\n", n, u.Retry.Backoff.Kind)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d unit(s)\n", len(units))
	return nil
}
