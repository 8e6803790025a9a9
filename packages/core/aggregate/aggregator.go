package aggregate

import (
	"fmt"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// MissingResultError is returned by Finalize when a submitted unit has no
// outcome.
type MissingResultError struct {
	IDs []string
}

func (e *MissingResultError) Error() string {
	return fmt.Sprintf("%d submitted unit(s) have no result, first %q", len(e.IDs), e.IDs[0])
}

// Aggregator collects outcomes in arrival order.
type Aggregator struct {
	mu        sync.Mutex
	runID     string
	now       func() time.Time
	startedAt time.Time
	submitted []string
	known     map[string]bool
	outcomes  map[string]*model.Outcome
	order     []string
	finalized bool
}

type Option func(*Aggregator)

func WithRunID(id string) Option {
	return func(a *Aggregator) {
		a.runID = id
	}
}

// WithClock replaces time.Now for start and finish timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithSubmitted records the submission order. Finalize then checks that every
// submitted unit has exactly one outcome.
func WithSubmitted(units []*model.TestUnit) Option {
	return func(a *Aggregator) {
		for _, u := range units {
			if !a.known[u.ID] {
				a.known[u.ID] = true
				a.submitted = append(a.submitted, u.ID)
			}
		}
	}
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:      time.Now,
		known:    make(map[string]bool),
		outcomes: make(map[string]*model.Outcome),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.startedAt = a.now()
	return a
}

// Add merges one outcome. A second outcome for the same unit is rejected with
// *model.DuplicateResultError and leaves the first one in place.
func (a *Aggregator) Add(o *model.Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.add(o)
}

func (a *Aggregator) add(o *model.Outcome) error {
	if a.finalized {
		return fmt.Errorf("aggregator already finalized")
	}
	if o == nil || o.Unit() == nil {
		return fmt.Errorf("outcome without unit")
	}
	id := o.UnitID()
	if _, dup := a.outcomes[id]; dup {
		return &model.DuplicateResultError{ID: id}
	}
	a.outcomes[id] = o
	a.order = append(a.order, id)
	if !a.known[id] {
		a.known[id] = true
		a.submitted = append(a.submitted, id)
	}
	return nil
}

// Len returns the number of outcomes merged so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Finalize merges any remaining outcomes and freezes the result set.
func (a *Aggregator) Finalize(outcomes []*model.Outcome) (*ResultSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, o := range outcomes {
		if err := a.add(o); err != nil {
			return nil, err
		}
	}

	var missing []string
	for _, id := range a.submitted {
		if _, ok := a.outcomes[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingResultError{IDs: missing}
	}

	a.finalized = true
	frozen := make(map[string]*model.Outcome, len(a.outcomes))
	for k, v := range a.outcomes {
		frozen[k] = v
	}
	return &ResultSet{
		RunID:      a.runID,
		StartedAt:  a.startedAt,
		FinishedAt: a.now(),
		outcomes:   frozen,
		order:      append([]string(nil), a.order...),
		submitted:  append([]string(nil), a.submitted...),
	}, nil
}
