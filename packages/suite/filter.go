package suite

import (
	"path"
	"strings"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// Filter selects units by tag, category and name. Empty fields match
// everything.
type Filter struct {
	Tags       []string
	Categories []model.Category
	// Name is a glob (path.Match syntax) or, without glob characters, a
	// case-insensitive substring matched against the unit name and id.
	Name string
}

// Apply returns the matching units in their original order.
func (f Filter) Apply(units []*model.TestUnit) []*model.TestUnit {
	var out []*model.TestUnit
	for _, u := range units {
		if f.Match(u) {
			out = append(out, u)
		}
	}
	return out
}

func (f Filter) Match(u *model.TestUnit) bool {
	if len(f.Tags) > 0 && !u.HasAnyTag(f.Tags) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, u.Category) {
		return false
	}
	if f.Name != "" && !matchesName(u, f.Name) {
		return false
	}
	return true
}

func containsCategory(list []model.Category, c model.Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func matchesName(u *model.TestUnit, pattern string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		for _, candidate := range []string{u.Name, u.ID} {
			if ok, _ := path.Match(pattern, candidate); ok {
				return true
			}
		}
		return false
	}
	p := strings.ToLower(pattern)
	return strings.Contains(strings.ToLower(u.Name), p) || strings.Contains(strings.ToLower(u.ID), p)
}

// ParseCategories parses a list of category names.
func ParseCategories(names []string) ([]model.Category, error) {
	var out []model.Category
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			c, err := model.ParseCategory(part)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}
