package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingExecutor struct {
	closed *int
}

func (c closingExecutor) Run(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
	return &model.Attempt{Number: attempt, Status: model.StatusPass}, nil
}

func (c closingExecutor) Close() error {
	*c.closed++
	return nil
}

func TestSession_ConstructsOncePerWorker(t *testing.T) {
	built := 0
	closed := 0
	reg := NewRegistry()
	reg.Register("fake", func() (Executor, error) {
		built++
		return closingExecutor{closed: &closed}, nil
	})

	s1 := reg.Session()
	e1, err := s1.Get("fake")
	require.NoError(t, err)
	e1again, err := s1.Get("fake")
	require.NoError(t, err)
	assert.Equal(t, e1, e1again)
	assert.Equal(t, 1, built)

	s2 := reg.Session()
	_, err = s2.Get("fake")
	require.NoError(t, err)
	assert.Equal(t, 2, built, "each session builds its own executor")

	require.NoError(t, s1.Close())
	require.NoError(t, s2.Close())
	assert.Equal(t, 2, closed)
}

func TestSession_UnknownExecutor(t *testing.T) {
	_, err := NewRegistry().Session().Get("browser")
	require.Error(t, err)
	assert.True(t, model.IsSetupError(err))
	assert.ErrorIs(t, err, model.ErrUnknownExecutor)
}

func TestSession_ConstructorFailureNotCached(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	reg.Register("flaky", func() (Executor, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("driver unavailable")
		}
		return Func(func(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
			return &model.Attempt{Status: model.StatusPass}, nil
		}), nil
	})

	s := reg.Session()
	_, err := s.Get("flaky")
	require.Error(t, err)
	assert.True(t, model.IsSetupError(err))

	_, err = s.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterInstance("command", Func(nil))
	reg.RegisterInstance("api", Func(nil))

	assert.Equal(t, []string{"api", "command"}, reg.Names())
	assert.True(t, reg.Has("api"))
	assert.False(t, reg.Has("ui"))
}
