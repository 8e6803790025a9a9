package suite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutSuite = `
name: Checkout
category: api
executor: api
tags: [smoke]
timeout: 10s
retry:
  maxAttempts: 3
  backoff: exponential
  delay: 100ms
tests:
  - name: Get cart
    request:
      method: GET
      url: "{{baseUrl}}/cart"
    expect:
      - {subject: status, value: 200}
  - id: checkout/pay
    name: Pay
    category: security
    tags: [payments, smoke]
    retry:
      maxAttempts: 1
    request:
      method: POST
      url: "{{baseUrl}}/pay"
  - name: Disabled
    skip: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParse(t *testing.T) {
	units, err := Parse([]byte(checkoutSuite), "suites/checkout.qa.yaml", Defaults{})
	require.NoError(t, err)
	require.Len(t, units, 2)

	cart := units[0]
	assert.Equal(t, "checkout/get-cart", cart.ID)
	assert.Equal(t, model.CategoryAPI, cart.Category)
	assert.Equal(t, "api", cart.Executor)
	assert.Equal(t, 10*time.Second, cart.Timeout)
	assert.Equal(t, []string{"smoke"}, cart.Tags)
	assert.Equal(t, 3, cart.Retry.MaxAttempts)
	assert.Equal(t, model.BackoffExponential, cart.Retry.Backoff.Kind)
	assert.Equal(t, 100*time.Millisecond, cart.Retry.Backoff.Base)
	assert.Equal(t, "suites/checkout.qa.yaml", cart.Source)
	require.Contains(t, cart.Spec, "request")
	assert.Contains(t, cart.Spec, "expect")
	assert.NotContains(t, cart.Spec, "name")

	pay := units[1]
	assert.Equal(t, "checkout/pay", pay.ID)
	assert.Equal(t, model.CategorySecurity, pay.Category)
	assert.Equal(t, []string{"smoke", "payments"}, pay.Tags)
	assert.Equal(t, 1, pay.Retry.MaxAttempts)
	assert.Equal(t, model.BackoffExponential, pay.Retry.Backoff.Kind, "unset fields inherit from the suite")
}

func TestParse_Defaults(t *testing.T) {
	defaults := Defaults{
		Category: model.CategoryUI,
		Executor: "command",
		Timeout:  time.Minute,
		Retry:    model.RetryPolicy{MaxAttempts: 2},
	}
	units, err := Parse([]byte("tests:\n  - name: login page\n    command: ./drive login\n"), "ui/login.qa.yml", defaults)
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, "login/login-page", u.ID, "suite name falls back to the file name")
	assert.Equal(t, model.CategoryUI, u.Category)
	assert.Equal(t, "command", u.Executor)
	assert.Equal(t, time.Minute, u.Timeout)
	assert.Equal(t, 2, u.Retry.MaxAttempts)
	assert.Equal(t, "./drive login", u.Spec["command"])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad yaml", "tests: [", "parsing"},
		{"unknown category", "category: perf\nexecutor: api\ntests:\n  - name: a\n", "unknown category"},
		{"missing executor", "category: api\ntests:\n  - name: a\n", "no executor"},
		{"missing category", "executor: api\ntests:\n  - name: a\n", "no category"},
		{"bad backoff", "category: api\nexecutor: api\nretry: {backoff: random}\ntests:\n  - name: a\n", "unknown backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), "x.qa.yaml", Defaults{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	b := writeFile(t, dir, "b.qa.yaml", "tests: []")
	a := writeFile(t, dir, "nested/a.qa.yml", "tests: []")
	writeFile(t, dir, "notes.yaml", "x: 1")
	writeFile(t, dir, ".hidden/c.qa.yaml", "tests: []")

	files, err := Discover([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, files)

	files, err = Discover([]string{b, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, files, "duplicates are dropped")

	_, err = Discover([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.qa.yaml", "category: api\nexecutor: api\ntests:\n  - name: a\n  - name: b\n")
	writeFile(t, dir, "two.qa.yaml", "category: ui\nexecutor: command\ntests:\n  - name: c\n")

	units, err := Load([]string{dir}, Defaults{})
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "one/a", units[0].ID)
	assert.Equal(t, "two/c", units[2].ID)
}

func TestLoad_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.qa.yaml", "category: api\nexecutor: api\ntests:\n  - {id: shared, name: a}\n")
	writeFile(t, dir, "two.qa.yaml", "category: api\nexecutor: api\ntests:\n  - {id: shared, name: b}\n")

	_, err := Load([]string{dir}, Defaults{})
	require.Error(t, err)
	var dup *model.DuplicateUnitError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "shared", dup.ID)
}

func TestLoad_NoFiles(t *testing.T) {
	_, err := Load([]string{t.TempDir()}, Defaults{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suite files")
}
