package bugreport

import (
	"strings"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityMinor:    0,
	SeverityMajor:    1,
	SeverityCritical: 2,
}

// DefaultElevationRules raise severity when a failure message mentions them.
var DefaultElevationRules = []string{"500", "crash", "panic"}

// BaseSeverity maps a category to its starting severity.
func BaseSeverity(c model.Category) Severity {
	switch c {
	case model.CategorySecurity:
		return SeverityCritical
	case model.CategoryAPI, model.CategoryIntegration:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// Elevate raises s by one level, stopping at critical.
func (s Severity) Elevate() Severity {
	switch s {
	case SeverityMinor:
		return SeverityMajor
	default:
		return SeverityCritical
	}
}

// Higher returns the more severe of s and o.
func (s Severity) Higher(o Severity) Severity {
	if severityRank[o] > severityRank[s] {
		return o
	}
	return s
}

// Priority derives the ticket priority: critical is P1, major P2, minor P3.
func (s Severity) Priority() string {
	switch s {
	case SeverityCritical:
		return "P1"
	case SeverityMajor:
		return "P2"
	default:
		return "P3"
	}
}

// ClassifySeverity returns the category severity, elevated one level if the
// message contains any rule (case-insensitive).
func ClassifySeverity(c model.Category, message string, rules []string) Severity {
	s := BaseSeverity(c)
	lower := strings.ToLower(message)
	for _, r := range rules {
		if r != "" && strings.Contains(lower, strings.ToLower(r)) {
			return s.Elevate()
		}
	}
	return s
}
