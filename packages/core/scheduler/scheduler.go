package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/abdul-hamid-achik/qarun/packages/core/runner"
	"github.com/abdul-hamid-achik/qarun/packages/executor"
	"github.com/abdul-hamid-achik/qarun/packages/logging"
	"golang.org/x/time/rate"
)

// maxReasonableConcurrency only triggers a warning.
const maxReasonableConcurrency = 32

type Scheduler struct {
	registry     *executor.Registry
	runner       *runner.Runner
	log          *logging.Logger
	runID        string
	isolate      bool
	dispatchRate float64
	onOutcome    func(*model.Outcome)
	now          func() time.Time
}

type Option func(*Scheduler)

// WithRunner sets the retry controller used for every unit.
func WithRunner(r *runner.Runner) Option {
	return func(s *Scheduler) {
		s.runner = r
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

func WithRunID(id string) Option {
	return func(s *Scheduler) {
		s.runID = id
	}
}

// WithIsolateCategories runs each category as its own group, one group after
// another, in order of first appearance.
func WithIsolateCategories(isolate bool) Option {
	return func(s *Scheduler) {
		s.isolate = isolate
	}
}

// WithDispatchRate limits how many units per second are started. Zero means
// unlimited.
func WithDispatchRate(perSecond float64) Option {
	return func(s *Scheduler) {
		s.dispatchRate = perSecond
	}
}

// WithOnOutcome registers a callback invoked from the collector goroutine for
// every outcome, skipped ones included.
func WithOnOutcome(fn func(*model.Outcome)) Option {
	return func(s *Scheduler) {
		s.onOutcome = fn
	}
}

// WithClock replaces time.Now for the result set timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(registry *executor.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = runner.NewRunner(runner.WithLogger(s.log))
	}
	return s
}

// Run executes units with at most concurrency workers and returns the
// finalized result set. Input errors (no units, bad concurrency, duplicate
// ids) are returned before anything is dispatched. Cancellation is not an
// error: the returned set marks unstarted units as skipped.
func (s *Scheduler) Run(ctx context.Context, units []*model.TestUnit, concurrency int) (*aggregate.ResultSet, error) {
	if err := validate(units, concurrency); err != nil {
		return nil, err
	}
	if concurrency > maxReasonableConcurrency {
		s.log.Warn("very high concurrency requested", "concurrency", concurrency)
	}

	log := s.log.With("run_id", s.runID)
	agg := aggregate.NewAggregator(
		aggregate.WithRunID(s.runID),
		aggregate.WithSubmitted(units),
		aggregate.WithClock(s.now),
	)

	var limiter *rate.Limiter
	if s.dispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.dispatchRate), 1)
	}

	groups := [][]*model.TestUnit{units}
	if s.isolate {
		groups = groupByCategory(units)
	}

	log.Info("starting run", "units", len(units), "concurrency", concurrency, "groups", len(groups))

	var firstErr error
	for i, group := range groups {
		log.Debug("starting group", "group", i+1, "category", group[0].Category, "units", len(group))
		if err := s.runGroup(ctx, log, group, concurrency, limiter, agg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	rs, err := agg.Finalize(nil)
	if err != nil {
		return nil, fmt.Errorf("finalizing results: %w", err)
	}

	sum := rs.Summary()
	log.Info("run finished",
		"duration", rs.Duration(),
		"passed", sum.Passed,
		"flaky", sum.Flaky,
		"failed", sum.Failed,
		"errored", sum.Errored,
		"timeout", sum.Timeout,
		"skipped", sum.Skipped)
	return rs, nil
}

func (s *Scheduler) runGroup(ctx context.Context, log *logging.Logger, units []*model.TestUnit, concurrency int, limiter *rate.Limiter, agg *aggregate.Aggregator) error {
	workers := min(concurrency, len(units))
	workChan := make(chan *model.TestUnit)
	resultChan := make(chan *model.Outcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(ctx, log.With("worker", i+1), &wg, workChan, resultChan)
	}

	go func() {
		defer close(workChan)
		for _, unit := range units {
			if ctx.Err() != nil {
				log.Debug("run cancelled, stopping dispatch")
				return
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case workChan <- unit:
			case <-ctx.Done():
				log.Debug("run cancelled while dispatching", "unit", unit.ID)
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	seen := make(map[string]bool, len(units))
	var firstErr error
	for o := range resultChan {
		seen[o.UnitID()] = true
		if err := s.collect(agg, o); err != nil {
			log.Error("failed to record outcome", "unit", o.UnitID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, unit := range units {
		if seen[unit.ID] {
			continue
		}
		if err := s.collect(agg, model.SkippedOutcome(unit)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) collect(agg *aggregate.Aggregator, o *model.Outcome) error {
	if err := agg.Add(o); err != nil {
		return err
	}
	if s.onOutcome != nil {
		s.onOutcome(o)
	}
	return nil
}

// worker runs units until the work channel is closed. Its executor session
// lives exactly as long as the worker.
func (s *Scheduler) worker(ctx context.Context, log *logging.Logger, wg *sync.WaitGroup, work <-chan *model.TestUnit, results chan<- *model.Outcome) {
	defer wg.Done()

	session := s.registry.Session()
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("failed to close executors", "error", err)
		}
	}()

	for unit := range work {
		if ctx.Err() != nil {
			results <- model.SkippedOutcome(unit)
			continue
		}

		log.Debug("running unit", "unit", unit.ID, "executor", unit.Executor)
		exec, err := session.Get(unit.Executor)
		if err != nil {
			log.Warn("executor unavailable", "unit", unit.ID, "error", err)
			results <- model.FaultOutcome(unit, nil, err)
			continue
		}
		results <- s.runner.Execute(ctx, unit, exec)
	}
}

func validate(units []*model.TestUnit, concurrency int) error {
	if len(units) == 0 {
		return model.ErrNoUnits
	}
	if concurrency < 1 {
		return fmt.Errorf("%w: got %d", model.ErrInvalidConcurrency, concurrency)
	}
	seen := make(map[string]bool, len(units))
	for i, u := range units {
		if u == nil {
			return fmt.Errorf("unit %d is nil", i)
		}
		if seen[u.ID] {
			return &model.DuplicateUnitError{ID: u.ID}
		}
		seen[u.ID] = true
	}
	return nil
}

// groupByCategory partitions units by category, keeping submission order
// inside each group and ordering groups by first appearance.
func groupByCategory(units []*model.TestUnit) [][]*model.TestUnit {
	index := make(map[model.Category]int)
	var groups [][]*model.TestUnit
	for _, u := range units {
		i, ok := index[u.Category]
		if !ok {
			i = len(groups)
			index[u.Category] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], u)
	}
	return groups
}
