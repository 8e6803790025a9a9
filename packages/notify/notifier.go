// Package notify sends run summaries to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	// NotifyAlways sends notifications for every run
	NotifyAlways NotifyOn = "always"
	// NotifyFailure sends notifications only when units fail
	NotifyFailure NotifyOn = "failure"
	// NotifySuccess sends notifications only when the run passes
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends notifications on failure and when a run passes
	// after a failing one
	NotifyRecovery NotifyOn = "recovery"
)

// ParseNotifyOn defaults to NotifyFailure.
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch NotifyOn(s) {
	case "":
		return NotifyFailure, nil
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return NotifyOn(s), nil
	default:
		return "", fmt.Errorf("unknown notify policy %q", s)
	}
}

// maxListed bounds how many failures and bugs a message lists.
const maxListed = 10

// RunSummary is what notifiers report.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Environment string        `json:"environment,omitempty"`
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Flaky       int           `json:"flaky"`
	Failed      int           `json:"failed"`
	Errored     int           `json:"errored"`
	TimedOut    int           `json:"timed_out"`
	Skipped     int           `json:"skipped"`
	FlakyRate   float64       `json:"flaky_rate"`
	Duration    time.Duration `json:"duration"`
	FailedUnits []FailedUnit  `json:"failed_units,omitempty"`
	Bugs        []Bug         `json:"bugs,omitempty"`
	IsRecovery  bool          `json:"is_recovery,omitempty"`
}

// FailedUnit is a unit that ended in fail, error or timeout.
type FailedUnit struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Source  string       `json:"source,omitempty"`
	Status  model.Status `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Bug is the short form of a bug report.
type Bug struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Priority string `json:"priority"`
	Units    int    `json:"units"`
}

// NewRunSummary condenses a result set and its reports.
func NewRunSummary(rs *aggregate.ResultSet, reports []*bugreport.BugReport, environment string) *RunSummary {
	s := rs.Summary()
	summary := &RunSummary{
		RunID:       rs.RunID,
		Environment: environment,
		Total:       s.Total,
		Passed:      s.Passed,
		Flaky:       s.Flaky,
		Failed:      s.Failed,
		Errored:     s.Errored,
		TimedOut:    s.Timeout,
		Skipped:     s.Skipped,
		FlakyRate:   s.FlakyRate,
		Duration:    s.Duration,
	}

	for _, o := range rs.Submitted() {
		switch o.Status() {
		case model.StatusFail, model.StatusError, model.StatusTimeout:
			u := o.Unit()
			summary.FailedUnits = append(summary.FailedUnits, FailedUnit{
				ID:      u.ID,
				Name:    u.DisplayName(),
				Source:  u.Source,
				Status:  o.Status(),
				Message: o.FailureMessage(),
			})
		}
	}
	for _, r := range reports {
		summary.Bugs = append(summary.Bugs, Bug{
			ID:       r.ID,
			Title:    r.Title,
			Severity: string(r.Severity),
			Priority: r.Priority,
			Units:    r.Occurrences,
		})
	}
	return summary
}

// Failing reports whether any unit failed or errored.
func (s *RunSummary) Failing() bool {
	return s.Failed+s.Errored > 0
}

// Notifier is the interface for notification services
type Notifier interface {
	Notify(ctx context.Context, summary *RunSummary) error
	Name() string
}

// Manager applies the NotifyOn policy and fans out to every notifier.
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastState bool // true if last run was successful
}

func NewManager(notifyOn NotifyOn, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastState: true,
	}
}

func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Len returns the number of notifiers.
func (m *Manager) Len() int {
	return len(m.notifiers)
}

// SetLastState records whether the previous run succeeded, so that a
// recovery can be detected across processes.
func (m *Manager) SetLastState(success bool) {
	m.lastState = success
}

// Notify sends the summary to every notifier if the policy asks for it. It
// returns whether a notification was sent and the joined notifier errors.
func (m *Manager) Notify(ctx context.Context, summary *RunSummary) (bool, error) {
	shouldNotify := false
	currentSuccess := !summary.Failing()

	switch m.notifyOn {
	case NotifyAlways:
		shouldNotify = true
	case NotifyFailure:
		shouldNotify = !currentSuccess
	case NotifySuccess:
		shouldNotify = currentSuccess
	case NotifyRecovery:
		if !m.lastState && currentSuccess {
			shouldNotify = true
			summary.IsRecovery = true
		}
		if !currentSuccess {
			shouldNotify = true
		}
	}

	m.lastState = currentSuccess

	if !shouldNotify || len(m.notifiers) == 0 {
		return false, nil
	}

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return true, errors.Join(errs...)
}

func headline(summary *RunSummary) (title string, ok bool) {
	switch {
	case summary.Failing():
		return fmt.Sprintf("%d unit(s) failed", summary.Failed+summary.Errored), false
	case summary.IsRecovery:
		return "Tests recovered!", true
	default:
		return "All units passed!", true
	}
}
