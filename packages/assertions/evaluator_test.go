package assertions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createResponse(statusCode int, body string, headers map[string]string) *http.Response {
	if headers == nil {
		headers = map[string]string{"Content-Type": "application/json"}
	}
	return &http.Response{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       []byte(body),
		Duration:   100 * time.Millisecond,
	}
}

func TestEvaluator_Status(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{}`, nil), "")

	result := e.Evaluate(Check{Subject: "status", Value: 200})
	assert.True(t, result.Passed)
	assert.Equal(t, 200, result.Actual)

	result = e.Evaluate(Check{Subject: "status", Op: "!=", Value: 500})
	assert.True(t, result.Passed)

	result = e.Evaluate(Check{Subject: "status", Value: 201})
	assert.False(t, result.Passed)
	assert.Equal(t, "expected 201, got 200", result.Message)
}

func TestEvaluator_BodyPath(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{"user": {"name": "John", "age": 30}, "items": [{"id": 1}, {"id": 2}]}`, nil), "")

	tests := []struct {
		name  string
		check Check
		want  bool
	}{
		{"nested string", Check{Subject: "body.user.name", Value: "John"}, true},
		{"number against int", Check{Subject: "body.user.age", Value: 30}, true},
		{"greater than", Check{Subject: "body.user.age", Op: "gt", Value: 18}, true},
		{"less than fails", Check{Subject: "body.user.age", Op: "<", Value: 18}, false},
		{"bracket index", Check{Subject: "body.items[1].id", Value: 2}, true},
		{"length", Check{Subject: "body.items", Op: "length", Value: 2}, true},
		{"type array", Check{Subject: "body.items", Op: "type", Value: "array"}, true},
		{"exists", Check{Subject: "body.user", Op: "exists"}, true},
		{"missing exists", Check{Subject: "body.user.email", Op: "exists"}, false},
		{"not exists", Check{Subject: "body.user.email", Op: "not_exists"}, true},
		{"in", Check{Subject: "body.user.name", Op: "in", Value: []any{"Jane", "John"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Evaluate(tt.check)
			assert.Equal(t, tt.want, result.Passed, result.Message)
		})
	}
}

func TestEvaluator_PlainBody(t *testing.T) {
	e := NewEvaluator(createResponse(200, "operation success", map[string]string{"Content-Type": "text/plain"}), "")

	assert.True(t, e.Evaluate(Check{Subject: "body", Op: "contains", Value: "success"}).Passed)
	assert.True(t, e.Evaluate(Check{Subject: "body", Op: "matches", Value: "/^operation/"}).Passed)

	result := e.Evaluate(Check{Subject: "body.id", Op: "exists"})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "not JSON")
}

func TestEvaluator_Header(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{}`, map[string]string{"Content-Type": "application/json; charset=utf-8"}), "")

	assert.True(t, e.Evaluate(Check{Subject: "header content-type", Op: "contains", Value: "json"}).Passed)
	assert.True(t, e.Evaluate(Check{Subject: "header X-Request-Id", Op: "not_exists"}).Passed)
}

func TestEvaluator_Duration(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{}`, nil), "")
	assert.True(t, e.Evaluate(Check{Subject: "duration", Op: "lte", Value: 100}).Passed)
}

func TestEvaluator_UnknownOperatorAndSubject(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{}`, nil), "")

	result := e.Evaluate(Check{Subject: "status", Op: "roughly", Value: 200})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "unknown operator")

	result = e.Evaluate(Check{Subject: "latency", Value: 1})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "unknown check subject")
}

func TestEvaluator_Schema(t *testing.T) {
	dir := t.TempDir()
	schema := `{"type": "object", "required": ["id"], "properties": {"id": {"type": "integer"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.json"), []byte(schema), 0644))

	ok := NewEvaluator(createResponse(200, `{"id": 7}`, nil), dir)
	assert.True(t, ok.Evaluate(Check{Subject: "body", Op: "schema", Value: "user.json"}).Passed)

	bad := NewEvaluator(createResponse(200, `{"name": "x"}`, nil), dir)
	result := bad.Evaluate(Check{Subject: "body", Op: "schema", Value: "user.json"})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "schema validation failed")

	escape := bad.Evaluate(Check{Subject: "body", Op: "schema", Value: "../outside.json"})
	assert.False(t, escape.Passed)
	assert.Contains(t, escape.Message, "path traversal")
}

func TestEvaluateAll(t *testing.T) {
	e := NewEvaluator(createResponse(404, `{"error": "not found"}`, nil), "")
	results := e.EvaluateAll([]Check{
		{Subject: "status", Value: 404},
		{Subject: "body.error", Op: "contains", Value: "found"},
		{Subject: "status", Value: 200},
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Passed)
	assert.True(t, results[1].Passed)
	assert.False(t, results[2].Passed)
}

func TestCheck_String(t *testing.T) {
	assert.Equal(t, "expect status equals 200", Check{Subject: "status", Value: 200}.String())
	assert.Equal(t, "expect body.id exists", Check{Subject: "body.id", Op: "exists"}.String())
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator(">=")
	require.NoError(t, err)
	assert.Equal(t, OpGreaterEq, op)

	op, err = ParseOperator("")
	require.NoError(t, err)
	assert.Equal(t, OpEquals, op)

	_, err = ParseOperator("approx")
	assert.Error(t, err)
}
