package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Category groups test units by the kind of system they exercise.
type Category string

const (
	CategoryUI          Category = "ui"
	CategoryAPI         Category = "api"
	CategoryIntegration Category = "integration"
	CategorySecurity    Category = "security"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryUI, CategoryAPI, CategoryIntegration, CategorySecurity}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Categories, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q (expected ui, api, integration or security)", s)
}

// TestUnit is one schedulable, retryable test case. It is created when suites
// are collected and is never modified afterwards.
type TestUnit struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Tags        []string
	Timeout     time.Duration
	Retry       RetryPolicy

	// Executor names the capability that runs this unit ("api", "command", ...).
	Executor string
	// Spec is the executor-specific payload, opaque to the orchestration core.
	Spec map[string]any
	// Source is the suite file the unit was loaded from.
	Source string
}

// DisplayName returns the unit name, falling back to its id.
func (u *TestUnit) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// HasTag reports whether the unit carries the given tag.
func (u *TestUnit) HasTag(tag string) bool {
	return slices.Contains(u.Tags, tag)
}

// HasAnyTag reports whether the unit carries at least one of the given tags.
func (u *TestUnit) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if u.HasTag(t) {
			return true
		}
	}
	return false
}
