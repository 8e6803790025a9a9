package cmd

import (
	"errors"
	"fmt"
)

// Exit codes for the qarun CLI
const (
	// ExitSuccess indicates no unit ended in fail or error
	ExitSuccess = 0

	// ExitTestFailure indicates one or more units failed or errored
	ExitTestFailure = 1

	// ExitParseError indicates a suite file could not be loaded
	ExitParseError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitSetupError indicates the run could not be set up (history
	// database, artifact directory, output file)
	ExitSetupError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64

	// ExitInterrupted indicates the run was cancelled by a signal
	ExitInterrupted = 130
)

// ExitError carries the process exit code for an error returned by a
// command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitWith(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// exitCode maps an error returned by a command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitTestFailure
}
