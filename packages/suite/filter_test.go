package suite

import (
	"testing"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(units []*model.TestUnit) []string {
	var out []string
	for _, u := range units {
		out = append(out, u.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	units := []*model.TestUnit{
		{ID: "cart/get", Name: "Get cart", Category: model.CategoryAPI, Tags: []string{"smoke"}},
		{ID: "auth/login", Name: "Login page", Category: model.CategoryUI, Tags: []string{"smoke", "auth"}},
		{ID: "auth/sqli", Name: "SQL injection", Category: model.CategorySecurity},
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty", Filter{}, []string{"cart/get", "auth/login", "auth/sqli"}},
		{"tag", Filter{Tags: []string{"auth"}}, []string{"auth/login"}},
		{"category", Filter{Categories: []model.Category{model.CategoryAPI, model.CategorySecurity}}, []string{"cart/get", "auth/sqli"}},
		{"glob on id", Filter{Name: "auth/*"}, []string{"auth/login", "auth/sqli"}},
		{"substring", Filter{Name: "CART"}, []string{"cart/get"}},
		{"combined", Filter{Tags: []string{"smoke"}, Name: "login"}, []string{"auth/login"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(tt.filter.Apply(units)))
		})
	}
}

func TestParseCategories(t *testing.T) {
	cats, err := ParseCategories([]string{"api,ui", "security"})
	require.NoError(t, err)
	assert.Equal(t, []model.Category{model.CategoryAPI, model.CategoryUI, model.CategorySecurity}, cats)

	_, err = ParseCategories([]string{"perf"})
	assert.Error(t, err)
}
