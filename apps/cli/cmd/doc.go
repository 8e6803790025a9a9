// Package cmd implements the qarun CLI commands using Cobra.
//
// Available commands:
//   - run: Execute test units from suite files
//   - validate: Check suite files without executing them
//   - list: Display the units selected from suite files
//   - history: Show recent runs recorded in the history database
//   - init: Create a config file and an example suite
//   - version: Show qarun version information
//
// Flags fall back to QARUN_* environment variables, which in turn override
// the config file.
package cmd
