package model

import "time"

// Outcome is the retry-resolved result of a TestUnit. It is immutable: the
// accessors return copies of the recorded attempts.
type Outcome struct {
	unit     *TestUnit
	attempts []Attempt
	status   Status
	fault    string
}

// NewOutcome builds an outcome from the attempts made for unit and
// classifies it.
func NewOutcome(unit *TestUnit, attempts []*Attempt) *Outcome {
	o := &Outcome{unit: unit}
	for _, a := range attempts {
		if a != nil {
			o.attempts = append(o.attempts, a.clone())
		}
	}
	o.status = Classify(o.attempts)
	return o
}

// FaultOutcome builds the outcome of a unit whose executor could not be set
// up. Attempts made before the fault are kept; the status is always error.
func FaultOutcome(unit *TestUnit, attempts []*Attempt, err error) *Outcome {
	o := NewOutcome(unit, attempts)
	o.status = StatusError
	o.fault = "executor setup failed"
	if err != nil {
		o.fault = err.Error()
	}
	return o
}

// SkippedOutcome builds the outcome of a unit that never started.
func SkippedOutcome(unit *TestUnit) *Outcome {
	return &Outcome{unit: unit, status: StatusSkipped}
}

// Classify derives an outcome status from an ordered list of attempts:
// pass if the first and only deciding attempt passed, flaky if an earlier
// attempt failed and the last one passed, otherwise the last attempt's status.
func Classify(attempts []Attempt) Status {
	if len(attempts) == 0 {
		return StatusSkipped
	}

	last := attempts[len(attempts)-1]
	if last.Status != StatusPass {
		return last.Status
	}
	for _, a := range attempts[:len(attempts)-1] {
		if a.Status.IsFailure() {
			return StatusFlaky
		}
	}
	return StatusPass
}

// Unit returns the unit this outcome belongs to.
func (o *Outcome) Unit() *TestUnit { return o.unit }

// UnitID returns the id of the unit this outcome belongs to.
func (o *Outcome) UnitID() string { return o.unit.ID }

// Status returns the final status.
func (o *Outcome) Status() Status { return o.status }

// Fault returns the setup fault message, if the unit was downgraded to error
// because its executor could not be set up.
func (o *Outcome) Fault() string { return o.fault }

// Attempts returns a copy of the recorded attempts in execution order.
func (o *Outcome) Attempts() []Attempt {
	out := make([]Attempt, len(o.attempts))
	for i := range o.attempts {
		out[i] = o.attempts[i].clone()
	}
	return out
}

// AttemptCount returns the number of attempts made.
func (o *Outcome) AttemptCount() int { return len(o.attempts) }

// FailingAttempt returns the attempt that explains a non-passing outcome:
// the last attempt that did not pass. It returns false when there is none.
func (o *Outcome) FailingAttempt() (Attempt, bool) {
	for i := len(o.attempts) - 1; i >= 0; i-- {
		if o.attempts[i].Status != StatusPass {
			return o.attempts[i].clone(), true
		}
	}
	return Attempt{}, false
}

// FailureMessage returns the setup fault or the failing attempt's message.
func (o *Outcome) FailureMessage() string {
	if o.fault != "" {
		return o.fault
	}
	if a, ok := o.FailingAttempt(); ok {
		return a.Message()
	}
	return ""
}

// Duration returns the sum of all attempt durations.
func (o *Outcome) Duration() time.Duration {
	var d time.Duration
	for i := range o.attempts {
		d += o.attempts[i].Duration()
	}
	return d
}

// Terminal reports whether the unit ran, i.e. was not skipped.
func (o *Outcome) Terminal() bool {
	return o.status != StatusSkipped
}
