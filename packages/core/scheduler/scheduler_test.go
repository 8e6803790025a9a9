package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/abdul-hamid-achik/qarun/packages/core/runner"
	"github.com/abdul-hamid-achik/qarun/packages/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestScheduler(reg *executor.Registry, opts ...Option) *Scheduler {
	opts = append([]Option{WithRunner(runner.NewRunner(runner.WithWaitFunc(noWait)))}, opts...)
	return NewScheduler(reg, opts...)
}

// statusScript maps a unit id to the statuses of its attempts.
type statusScript map[string][]model.Status

func (s statusScript) executor() executor.Executor {
	return executor.Func(func(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
		statuses, ok := s[unit.ID]
		if !ok {
			return &model.Attempt{Status: model.StatusPass}, nil
		}
		st := statuses[min(attempt, len(statuses))-1]
		a := &model.Attempt{Status: st, Steps: []string{"open " + unit.ID}}
		if st != model.StatusPass {
			a.Failure = &model.Failure{Message: "500 Internal Server Error"}
		}
		return a, nil
	})
}

func makeUnits(n int, cat model.Category, maxAttempts int) []*model.TestUnit {
	units := make([]*model.TestUnit, n)
	for i := range units {
		units[i] = &model.TestUnit{
			ID:       fmt.Sprintf("%s-%02d", cat, i),
			Category: cat,
			Executor: "fake",
			Retry:    model.RetryPolicy{MaxAttempts: maxAttempts},
		}
	}
	return units
}

func TestRun_InputValidation(t *testing.T) {
	s := newTestScheduler(executor.NewRegistry())
	units := makeUnits(2, model.CategoryAPI, 1)

	_, err := s.Run(context.Background(), nil, 2)
	assert.ErrorIs(t, err, model.ErrNoUnits)

	_, err = s.Run(context.Background(), units, 0)
	assert.ErrorIs(t, err, model.ErrInvalidConcurrency)

	dup := append(units, &model.TestUnit{ID: units[0].ID})
	_, err = s.Run(context.Background(), dup, 2)
	var dupErr *model.DuplicateUnitError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, units[0].ID, dupErr.ID)
}

func TestRun_EveryUnitHasExactlyOneOutcome(t *testing.T) {
	units := makeUnits(25, model.CategoryAPI, 3)
	script := statusScript{}
	for i, u := range units {
		switch i % 4 {
		case 0:
			script[u.ID] = []model.Status{model.StatusFail, model.StatusPass}
		case 1:
			script[u.ID] = []model.Status{model.StatusFail}
		case 2:
			script[u.ID] = []model.Status{model.StatusTimeout, model.StatusError}
		}
	}

	for _, concurrency := range []int{1, 2, 4, 8, 32} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			reg := executor.NewRegistry()
			reg.RegisterInstance("fake", script.executor())
			var notified atomic.Int32

			rs, err := newTestScheduler(reg, WithOnOutcome(func(*model.Outcome) { notified.Add(1) })).
				Run(context.Background(), units, concurrency)
			require.NoError(t, err)

			assert.Equal(t, len(units), rs.Len())
			assert.Equal(t, int32(len(units)), notified.Load())
			for _, u := range units {
				_, ok := rs.Get(u.ID)
				assert.True(t, ok, u.ID)
			}

			sum := rs.Summary()
			assert.Equal(t, 7, sum.Flaky)
			assert.Equal(t, 6, sum.Failed)
			assert.Equal(t, 6, sum.Errored)
			assert.Equal(t, 6, sum.Passed)
		})
	}
}

func TestRun_SequentialPreservesSubmissionOrder(t *testing.T) {
	units := makeUnits(10, model.CategoryUI, 1)
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", statusScript{}.executor())

	rs, err := newTestScheduler(reg).Run(context.Background(), units, 1)
	require.NoError(t, err)

	for i, o := range rs.Outcomes() {
		assert.Equal(t, units[i].ID, o.UnitID())
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	const limit = 3
	var inFlight, peak atomic.Int32
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", executor.Func(func(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &model.Attempt{Status: model.StatusPass}, nil
	}))

	_, err := newTestScheduler(reg).Run(context.Background(), makeUnits(20, model.CategoryAPI, 1), limit)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestRun_ExecutorsArePerWorker(t *testing.T) {
	var built atomic.Int32
	reg := executor.NewRegistry()
	reg.Register("fake", func() (executor.Executor, error) {
		built.Add(1)
		var busy atomic.Bool
		return executor.Func(func(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
			if !busy.CompareAndSwap(false, true) {
				return nil, errors.New("executor shared between workers")
			}
			defer busy.Store(false)
			time.Sleep(time.Millisecond)
			return &model.Attempt{Status: model.StatusPass}, nil
		}), nil
	})

	rs, err := newTestScheduler(reg).Run(context.Background(), makeUnits(30, model.CategoryUI, 1), 4)
	require.NoError(t, err)

	assert.Equal(t, 30, rs.Summary().Passed)
	assert.LessOrEqual(t, built.Load(), int32(4))
}

func TestRun_SetupFaultIsIsolated(t *testing.T) {
	units := makeUnits(3, model.CategoryAPI, 3)
	units[1].Executor = "browser"
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", statusScript{}.executor())

	rs, err := newTestScheduler(reg).Run(context.Background(), units, 2)
	require.NoError(t, err)

	faulted, _ := rs.Get(units[1].ID)
	assert.Equal(t, model.StatusError, faulted.Status())
	assert.Zero(t, faulted.AttemptCount())
	assert.Contains(t, faulted.Fault(), "unknown executor")

	for _, id := range []string{units[0].ID, units[2].ID} {
		o, _ := rs.Get(id)
		assert.Equal(t, model.StatusPass, o.Status())
	}
}

func TestRun_CancellationSkipsUnstartedUnits(t *testing.T) {
	const total, finishBeforeCancel = 10, 4
	units := makeUnits(total, model.CategoryAPI, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran atomic.Int32
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", executor.Func(func(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
		if ran.Add(1) == finishBeforeCancel {
			cancel()
		}
		return &model.Attempt{Status: model.StatusPass}, nil
	}))

	rs, err := newTestScheduler(reg).Run(ctx, units, 1)
	require.NoError(t, err)

	sum := rs.Summary()
	assert.Equal(t, total, sum.Total)
	assert.Equal(t, finishBeforeCancel, sum.Passed)
	assert.Equal(t, total-finishBeforeCancel, sum.Skipped)
	assert.Equal(t, int32(finishBeforeCancel), ran.Load())

	for i, o := range rs.Submitted() {
		if i < finishBeforeCancel {
			assert.Equal(t, model.StatusPass, o.Status())
		} else {
			assert.Equal(t, model.StatusSkipped, o.Status())
			assert.Zero(t, o.AttemptCount())
		}
	}
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", statusScript{}.executor())

	rs, err := newTestScheduler(reg).Run(ctx, makeUnits(5, model.CategoryUI, 1), 2)
	require.NoError(t, err)
	assert.Equal(t, 5, rs.Summary().Skipped)
}

func TestRun_IsolateCategories(t *testing.T) {
	var units []*model.TestUnit
	api := makeUnits(4, model.CategoryAPI, 1)
	ui := makeUnits(4, model.CategoryUI, 1)
	for i := range api {
		units = append(units, api[i], ui[i])
	}

	var mu sync.Mutex
	var order []model.Category
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", executor.Func(func(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
		mu.Lock()
		order = append(order, unit.Category)
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return &model.Attempt{Status: model.StatusPass}, nil
	}))

	_, err := newTestScheduler(reg, WithIsolateCategories(true)).Run(context.Background(), units, 4)
	require.NoError(t, err)

	require.Len(t, order, 8)
	for i, c := range order {
		if i < 4 {
			assert.Equal(t, model.CategoryAPI, c)
		} else {
			assert.Equal(t, model.CategoryUI, c)
		}
	}
}

func TestRun_DispatchRate(t *testing.T) {
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", statusScript{}.executor())

	start := time.Now()
	_, err := newTestScheduler(reg, WithDispatchRate(50)).Run(context.Background(), makeUnits(5, model.CategoryAPI, 1), 5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRun_SecurityFailureAndPassingUI(t *testing.T) {
	a := &model.TestUnit{ID: "A", Category: model.CategorySecurity, Executor: "fake", Retry: model.RetryPolicy{MaxAttempts: 2}}
	b := &model.TestUnit{ID: "B", Category: model.CategoryUI, Executor: "fake", Retry: model.RetryPolicy{MaxAttempts: 2}}
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", statusScript{"A": {model.StatusFail}}.executor())

	rs, err := newTestScheduler(reg).Run(context.Background(), []*model.TestUnit{a, b}, 2)
	require.NoError(t, err)

	oa, _ := rs.Get("A")
	ob, _ := rs.Get("B")
	assert.Equal(t, model.StatusFail, oa.Status())
	assert.Equal(t, 2, oa.AttemptCount())
	assert.Equal(t, model.StatusPass, ob.Status())
	assert.Equal(t, 1, ob.AttemptCount())
}

func TestRun_SecurityFailureAndFlakyUI(t *testing.T) {
	a := &model.TestUnit{ID: "A", Category: model.CategorySecurity, Executor: "fake", Retry: model.RetryPolicy{MaxAttempts: 2}}
	b := &model.TestUnit{ID: "B", Category: model.CategoryUI, Executor: "fake", Retry: model.RetryPolicy{MaxAttempts: 2}}
	script := statusScript{
		"A": {model.StatusFail, model.StatusFail},
		"B": {model.StatusFail, model.StatusPass},
	}
	reg := executor.NewRegistry()
	reg.RegisterInstance("fake", script.executor())

	rs, err := newTestScheduler(reg).Run(context.Background(), []*model.TestUnit{a, b}, 2)
	require.NoError(t, err)

	oa, _ := rs.Get("A")
	ob, _ := rs.Get("B")
	assert.Equal(t, model.StatusFail, oa.Status())
	assert.Equal(t, 2, oa.AttemptCount())
	assert.Equal(t, model.StatusFlaky, ob.Status())
	assert.Equal(t, 2, ob.AttemptCount())
}

func TestGroupByCategory(t *testing.T) {
	units := []*model.TestUnit{
		{ID: "1", Category: model.CategoryUI},
		{ID: "2", Category: model.CategoryAPI},
		{ID: "3", Category: model.CategoryUI},
	}
	groups := groupByCategory(units)
	require.Len(t, groups, 2)
	assert.Equal(t, []*model.TestUnit{units[0], units[2]}, groups[0])
	assert.Equal(t, []*model.TestUnit{units[1]}, groups[1])
}
