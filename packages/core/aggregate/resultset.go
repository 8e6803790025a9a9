package aggregate

import (
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// ResultSet maps unit ids to outcomes. Iteration follows arrival order;
// Submitted follows the order units were handed to the scheduler.
type ResultSet struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	outcomes  map[string]*model.Outcome
	order     []string
	submitted []string
}

// NewResultSet builds a result set directly from outcomes taken to be in
// arrival order. It is meant for tests and for reloading stored runs.
func NewResultSet(runID string, startedAt, finishedAt time.Time, outcomes ...*model.Outcome) (*ResultSet, error) {
	agg := NewAggregator(WithRunID(runID), WithClock(func() time.Time { return startedAt }))
	for _, o := range outcomes {
		if err := agg.Add(o); err != nil {
			return nil, err
		}
	}
	rs, err := agg.Finalize(nil)
	if err != nil {
		return nil, err
	}
	rs.FinishedAt = finishedAt
	return rs, nil
}

// Get returns the outcome of a unit.
func (rs *ResultSet) Get(id string) (*model.Outcome, bool) {
	o, ok := rs.outcomes[id]
	return o, ok
}

// Len returns the number of outcomes.
func (rs *ResultSet) Len() int {
	return len(rs.order)
}

// Outcomes returns the outcomes in arrival order.
func (rs *ResultSet) Outcomes() []*model.Outcome {
	return rs.collect(rs.order)
}

// Submitted returns the outcomes in submission order.
func (rs *ResultSet) Submitted() []*model.Outcome {
	return rs.collect(rs.submitted)
}

// Filter returns the outcomes in submission order whose status is one of
// statuses.
func (rs *ResultSet) Filter(statuses ...model.Status) []*model.Outcome {
	var out []*model.Outcome
	for _, o := range rs.Submitted() {
		for _, s := range statuses {
			if o.Status() == s {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// Duration returns the wall-clock duration of the run.
func (rs *ResultSet) Duration() time.Duration {
	if rs.FinishedAt.Before(rs.StartedAt) {
		return 0
	}
	return rs.FinishedAt.Sub(rs.StartedAt)
}

func (rs *ResultSet) collect(ids []string) []*model.Outcome {
	out := make([]*model.Outcome, 0, len(ids))
	for _, id := range ids {
		if o, ok := rs.outcomes[id]; ok {
			out = append(out, o)
		}
	}
	return out
}
