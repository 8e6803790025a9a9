package model

import (
	"fmt"
	"time"
)

// Status is the state of an attempt or outcome.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"

	// Outcome-only statuses.
	StatusFlaky   Status = "flaky"
	StatusSkipped Status = "skipped"
)

// Statuses lists every status in summary order.
var Statuses = []Status{StatusPass, StatusFlaky, StatusFail, StatusError, StatusTimeout, StatusSkipped}

// IsFailure reports whether the status should trigger a retry.
func (s Status) IsFailure() bool {
	return s == StatusFail || s == StatusError || s == StatusTimeout
}

// Failure describes why an attempt did not pass.
type Failure struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// ArtifactRef is a stable reference to a persisted screenshot, trace or
// response body.
type ArtifactRef struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Size int64  `json:"size"`
}

// Blob is raw artifact content captured by an executor before it is persisted.
type Blob struct {
	Name string
	Data []byte
}

// Attempt is one execution of a TestUnit.
type Attempt struct {
	Number    int           `json:"number"`
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Status    Status        `json:"status"`
	Failure   *Failure      `json:"failure,omitempty"`
	Steps     []string      `json:"steps,omitempty"`
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`

	// Captures holds blobs the executor wants persisted. The runner moves
	// them to the artifact store and records the references in Artifacts.
	Captures []Blob `json:"-"`
}

// AttemptID returns the identifier of attempt n of a unit.
func AttemptID(unitID string, n int) string {
	return fmt.Sprintf("%s#%d", unitID, n)
}

// Duration returns how long the attempt ran.
func (a *Attempt) Duration() time.Duration {
	if a.EndedAt.IsZero() || a.EndedAt.Before(a.StartedAt) {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// Passed reports whether the attempt passed.
func (a *Attempt) Passed() bool {
	return a.Status == StatusPass
}

// Message returns the failure message or an empty string.
func (a *Attempt) Message() string {
	if a.Failure == nil {
		return ""
	}
	return a.Failure.Message
}

func (a *Attempt) clone() Attempt {
	c := *a
	if a.Failure != nil {
		f := *a.Failure
		c.Failure = &f
	}
	c.Steps = append([]string(nil), a.Steps...)
	c.Artifacts = append([]ArtifactRef(nil), a.Artifacts...)
	c.Captures = nil
	return c
}
