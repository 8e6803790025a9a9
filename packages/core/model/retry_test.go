package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDuration(t *testing.T) {
	t.Run("constant", func(t *testing.T) {
		b := Backoff{Kind: BackoffConstant, Base: 100 * time.Millisecond}
		assert.Equal(t, 100*time.Millisecond, b.Duration(1))
		assert.Equal(t, 100*time.Millisecond, b.Duration(5))
	})

	t.Run("linear", func(t *testing.T) {
		b := Backoff{Kind: BackoffLinear, Base: 100 * time.Millisecond}
		assert.Equal(t, 100*time.Millisecond, b.Duration(1))
		assert.Equal(t, 300*time.Millisecond, b.Duration(3))
	})

	t.Run("exponential with ceiling", func(t *testing.T) {
		b := Backoff{Kind: BackoffExponential, Base: 100 * time.Millisecond, Max: time.Second}
		assert.Equal(t, 100*time.Millisecond, b.Duration(1))
		assert.Equal(t, 200*time.Millisecond, b.Duration(2))
		assert.Equal(t, 800*time.Millisecond, b.Duration(4))
		assert.Equal(t, time.Second, b.Duration(5))
		assert.Equal(t, time.Second, b.Duration(80))
	})

	t.Run("zero base", func(t *testing.T) {
		assert.Zero(t, Backoff{Kind: BackoffExponential}.Duration(3))
	})
}

func TestRetryPolicyAttempts(t *testing.T) {
	assert.Equal(t, 1, RetryPolicy{}.Attempts())
	assert.Equal(t, 1, NoRetry.Attempts())
	assert.Equal(t, 3, RetryPolicy{MaxAttempts: 3}.Attempts())
}

func TestParseBackoffKind(t *testing.T) {
	k, err := ParseBackoffKind("Exponential")
	require.NoError(t, err)
	assert.Equal(t, BackoffExponential, k)

	k, err = ParseBackoffKind("")
	require.NoError(t, err)
	assert.Equal(t, BackoffConstant, k)

	_, err = ParseBackoffKind("fibonacci")
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Security ")
	require.NoError(t, err)
	assert.Equal(t, CategorySecurity, c)

	_, err = ParseCategory("perf")
	assert.Error(t, err)
}
