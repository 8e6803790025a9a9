package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BackoffKind selects how the delay between attempts grows.
type BackoffKind string

const (
	BackoffConstant    BackoffKind = "constant"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// ParseBackoffKind converts a string into a BackoffKind.
func ParseBackoffKind(s string) (BackoffKind, error) {
	switch k := BackoffKind(strings.ToLower(strings.TrimSpace(s))); k {
	case BackoffConstant, BackoffLinear, BackoffExponential:
		return k, nil
	case "":
		return BackoffConstant, nil
	default:
		return "", fmt.Errorf("unknown backoff %q (expected constant, linear or exponential)", s)
	}
}

// Backoff computes the wait before a retry.
type Backoff struct {
	Kind BackoffKind
	Base time.Duration
	// Max caps the delay. Zero means no ceiling.
	Max time.Duration
}

// Duration returns the delay to wait after attempt k (1-based) failed and
// before attempt k+1 starts.
func (b Backoff) Duration(k int) time.Duration {
	if k < 1 || b.Base <= 0 {
		return 0
	}

	var d time.Duration
	switch b.Kind {
	case BackoffLinear:
		d = b.Base * time.Duration(k)
	case BackoffExponential:
		f := float64(b.Base) * math.Pow(2, float64(k-1))
		if f > math.MaxInt64 {
			d = time.Duration(math.MaxInt64)
		} else {
			d = time.Duration(f)
		}
	default:
		d = b.Base
	}

	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// RetryPolicy bounds how many attempts a unit gets.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
}

// Attempts returns the effective attempt budget, which is always at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// NoRetry is a policy that runs a unit exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}
