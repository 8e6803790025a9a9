package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUnits is returned when a run is started without units.
	ErrNoUnits = errors.New("no test units to run")
	// ErrInvalidConcurrency is returned for a concurrency below one.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
	// ErrUnknownExecutor is returned when a unit names an executor that is
	// not registered.
	ErrUnknownExecutor = errors.New("unknown executor")
)

// DuplicateUnitError is returned when two submitted units share an id.
type DuplicateUnitError struct {
	ID string
}

func (e *DuplicateUnitError) Error() string {
	return fmt.Sprintf("duplicate test unit id %q", e.ID)
}

// DuplicateResultError is returned when a second outcome arrives for a unit
// that already has one.
type DuplicateResultError struct {
	ID string
}

func (e *DuplicateResultError) Error() string {
	return fmt.Sprintf("duplicate result for test unit %q", e.ID)
}

// SetupError marks a non-recoverable executor fault. A unit that hits one is
// finalized as error without further attempts.
type SetupError struct {
	Executor string
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("executor %s setup failed: %v", e.Executor, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err is or wraps a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}
