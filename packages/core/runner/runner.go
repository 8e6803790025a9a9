package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/artifact"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/abdul-hamid-achik/qarun/packages/executor"
	"github.com/abdul-hamid-achik/qarun/packages/logging"
)

// WaitFunc suspends the caller for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

type Runner struct {
	store artifact.Store
	log   *logging.Logger
	wait  WaitFunc
	now   func() time.Time
}

type Option func(*Runner)

// WithArtifactStore sets where captured blobs are persisted. Without a store
// captures are dropped.
func WithArtifactStore(s artifact.Store) Option {
	return func(r *Runner) {
		r.store = s
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// WithWaitFunc replaces the backoff suspension.
func WithWaitFunc(fn WaitFunc) Option {
	return func(r *Runner) {
		r.wait = fn
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		log:  logging.Nop(),
		wait: Sleep,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs unit with exec until an attempt passes, the attempt budget is
// spent, the executor reports a setup fault or ctx is cancelled between
// attempts. Attempt 1 always runs. In-flight attempts are not interrupted by
// cancellation; only the unit timeout bounds them.
func (r *Runner) Execute(ctx context.Context, unit *model.TestUnit, exec executor.Executor) *model.Outcome {
	log := r.log.With("unit", unit.ID)
	budget := unit.Retry.Attempts()
	var attempts []*model.Attempt

	for n := 1; n <= budget; n++ {
		if n > 1 {
			delay := unit.Retry.Backoff.Duration(n - 1)
			log.Debug("retrying", "attempt", n, "delay", delay, "previous", attempts[len(attempts)-1].Status)
			if err := r.wait(ctx, delay); err != nil {
				log.Info("retry abandoned", "attempt", n, "reason", err)
				break
			}
		}

		a, err := r.runAttempt(ctx, unit, exec, n)
		if err != nil {
			log.Warn("executor setup fault", "attempt", n, "error", err)
			return model.FaultOutcome(unit, attempts, err)
		}
		attempts = append(attempts, a)
		log.Debug("attempt finished", "attempt", n, "status", a.Status, "duration", a.Duration())

		if !a.Status.IsFailure() {
			break
		}
	}

	return model.NewOutcome(unit, attempts)
}

func (r *Runner) runAttempt(ctx context.Context, unit *model.TestUnit, exec executor.Executor, n int) (*model.Attempt, error) {
	attemptCtx := context.WithoutCancel(ctx)
	if unit.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, unit.Timeout)
		defer cancel()
	}

	start := r.now()
	a, err := r.safeRun(attemptCtx, exec, unit, n)
	if err != nil {
		if !model.IsSetupError(err) {
			err = &model.SetupError{Executor: unit.Executor, Err: err}
		}
		return nil, err
	}

	if a == nil {
		a = &model.Attempt{
			Status:  model.StatusError,
			Failure: &model.Failure{Message: "executor returned no attempt"},
		}
	}
	a.Number = n
	a.ID = model.AttemptID(unit.ID, n)
	if a.StartedAt.IsZero() {
		a.StartedAt = start
	}
	if a.EndedAt.IsZero() {
		a.EndedAt = r.now()
	}

	switch {
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && a.Status != model.StatusTimeout:
		a.Status = model.StatusTimeout
		if a.Failure == nil {
			a.Failure = &model.Failure{}
		}
		a.Failure.Message = fmt.Sprintf("attempt exceeded timeout of %s", unit.Timeout)
	case !validAttemptStatus(a.Status):
		a.Failure = &model.Failure{Message: fmt.Sprintf("executor reported invalid status %q", a.Status)}
		a.Status = model.StatusError
	case a.Status.IsFailure() && a.Failure == nil:
		a.Failure = &model.Failure{Message: fmt.Sprintf("attempt %s", a.Status)}
	}

	r.persist(context.WithoutCancel(ctx), a)
	return a, nil
}

// persist moves captured blobs into the artifact store.
func (r *Runner) persist(ctx context.Context, a *model.Attempt) {
	captures := a.Captures
	a.Captures = nil
	if r.store == nil {
		return
	}
	for _, blob := range captures {
		ref, err := r.store.Put(ctx, a.ID, blob.Name, blob.Data)
		if err != nil {
			r.log.Warn("failed to store artifact", "attempt", a.ID, "name", blob.Name, "error", err)
			continue
		}
		a.Artifacts = append(a.Artifacts, ref)
	}
}

func (r *Runner) safeRun(ctx context.Context, exec executor.Executor, unit *model.TestUnit, n int) (a *model.Attempt, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("executor panicked", "unit", unit.ID, "attempt", n, "panic", p, "stack", string(debug.Stack()))
			a = nil
			err = &model.SetupError{Executor: unit.Executor, Err: fmt.Errorf("executor panicked: %v", p)}
		}
	}()
	return exec.Run(ctx, unit, n)
}

func validAttemptStatus(s model.Status) bool {
	switch s {
	case model.StatusPass, model.StatusFail, model.StatusError, model.StatusTimeout:
		return true
	}
	return false
}
