package assertions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/qarun/packages/http"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Operator is a comparison applied to a check subject.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreater     Operator = "gt"
	OpGreaterEq   Operator = "gte"
	OpLess        Operator = "lt"
	OpLessEq      Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpMatches     Operator = "matches"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
	OpLength      Operator = "length"
	OpType        Operator = "type"
	OpIn          Operator = "in"
	OpSchema      Operator = "schema"
)

var operatorAliases = map[string]Operator{
	"==": OpEquals, "eq": OpEquals,
	"!=": OpNotEquals, "ne": OpNotEquals,
	">": OpGreater, ">=": OpGreaterEq,
	"<": OpLess, "<=": OpLessEq,
}

// ParseOperator accepts operator names and their symbolic aliases. An empty
// string means equals.
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return OpEquals, nil
	}
	if op, ok := operatorAliases[s]; ok {
		return op, nil
	}
	switch op := Operator(s); op {
	case OpEquals, OpNotEquals, OpGreater, OpGreaterEq, OpLess, OpLessEq,
		OpContains, OpNotContains, OpMatches, OpExists, OpNotExists,
		OpLength, OpType, OpIn, OpSchema:
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Check is one expectation from a unit spec.
type Check struct {
	Subject string `yaml:"subject"`
	Op      string `yaml:"op"`
	Value   any    `yaml:"value"`
}

// String renders the check as a step line, e.g. "expect status equals 200".
func (c Check) String() string {
	op := c.Op
	if op == "" {
		op = string(OpEquals)
	}
	if c.Value == nil {
		return fmt.Sprintf("expect %s %s", c.Subject, op)
	}
	return fmt.Sprintf("expect %s %s %v", c.Subject, op, c.Value)
}

type Result struct {
	Check   Check
	Passed  bool
	Message string
	Actual  any
}

type Evaluator struct {
	response *http.Response
	bodyJSON gjson.Result
	baseDir  string // schema paths are resolved against it
}

// NewEvaluator prepares checks against resp. baseDir anchors relative schema
// paths and may be empty.
func NewEvaluator(resp *http.Response, baseDir string) *Evaluator {
	e := &Evaluator{response: resp, baseDir: baseDir}
	if gjson.ValidBytes(resp.Body) {
		e.bodyJSON = gjson.ParseBytes(resp.Body)
	}
	return e
}

func (e *Evaluator) Evaluate(c Check) *Result {
	result := &Result{Check: c}

	op, err := ParseOperator(c.Op)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	actual, err := e.actualValue(c.Subject)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	result.Actual = actual

	result.Passed, result.Message = e.compare(actual, op, c.Value)
	if op == OpLength {
		result.Actual = computeLength(actual)
	}
	return result
}

// EvaluateAll runs every check and returns the results in order.
func (e *Evaluator) EvaluateAll(checks []Check) []*Result {
	results := make([]*Result, len(checks))
	for i, c := range checks {
		results[i] = e.Evaluate(c)
	}
	return results
}

func (e *Evaluator) actualValue(subject string) (any, error) {
	subject = strings.TrimSpace(subject)
	switch {
	case subject == "status":
		return e.response.StatusCode, nil
	case subject == "duration":
		return e.response.DurationMs(), nil
	case strings.HasPrefix(subject, "header"):
		name := strings.TrimSpace(strings.TrimPrefix(subject, "header"))
		if name == "" {
			return e.response.Headers, nil
		}
		if v := e.response.Header(name); v != "" {
			return v, nil
		}
		return nil, nil
	case subject == "body":
		if e.bodyJSON.Exists() {
			return e.bodyJSON.Value(), nil
		}
		return e.response.BodyString(), nil
	case strings.HasPrefix(subject, "body."), strings.HasPrefix(subject, "body["):
		return e.bodyPath(strings.TrimPrefix(subject, "body"))
	default:
		return nil, fmt.Errorf("unknown check subject %q", subject)
	}
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

func (e *Evaluator) bodyPath(path string) (any, error) {
	if !e.bodyJSON.Exists() {
		return nil, fmt.Errorf("response body is not JSON")
	}
	path = strings.TrimPrefix(bracketIndex.ReplaceAllString(path, ".$1"), ".")
	r := e.bodyJSON.Get(path)
	if !r.Exists() {
		return nil, nil
	}
	return r.Value(), nil
}

func (e *Evaluator) compare(actual any, op Operator, expected any) (bool, string) {
	switch op {
	case OpEquals:
		return equals(actual, expected)
	case OpNotEquals:
		if ok, _ := equals(actual, expected); ok {
			return false, fmt.Sprintf("expected not to equal %v", expected)
		}
		return true, ""
	case OpGreater:
		return compareNumeric(actual, expected, ">")
	case OpGreaterEq:
		return compareNumeric(actual, expected, ">=")
	case OpLess:
		return compareNumeric(actual, expected, "<")
	case OpLessEq:
		return compareNumeric(actual, expected, "<=")
	case OpContains:
		return contains(actual, expected)
	case OpNotContains:
		if ok, _ := contains(actual, expected); ok {
			return false, fmt.Sprintf("expected not to contain %v", expected)
		}
		return true, ""
	case OpMatches:
		return matches(actual, expected)
	case OpExists:
		if actual == nil {
			return false, "expected to exist"
		}
		return true, ""
	case OpNotExists:
		if actual != nil {
			return false, fmt.Sprintf("expected not to exist, got %v", actual)
		}
		return true, ""
	case OpLength:
		return length(actual, expected)
	case OpType:
		return typeCheck(actual, expected)
	case OpIn:
		return in(actual, expected)
	case OpSchema:
		return e.schema(actual, expected)
	default:
		return false, fmt.Sprintf("unknown operator: %v", op)
	}
}

func equals(actual, expected any) (bool, string) {
	if reflect.DeepEqual(actual, expected) {
		return true, ""
	}
	a, aOk := toFloat64(actual)
	b, bOk := toFloat64(expected)
	if aOk && bOk && a == b {
		return true, ""
	}
	if fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected) {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v, got %v", expected, actual)
}

func compareNumeric(actual, expected any, op string) (bool, string) {
	a, aOk := toFloat64(actual)
	b, bOk := toFloat64(expected)
	if !aOk || !bOk {
		return false, fmt.Sprintf("cannot compare non-numeric values: %v %s %v", actual, op, expected)
	}

	var passed bool
	switch op {
	case ">":
		passed = a > b
	case ">=":
		passed = a >= b
	case "<":
		passed = a < b
	case "<=":
		passed = a <= b
	}
	if passed {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v %s %v", actual, op, expected)
}

func contains(actual, expected any) (bool, string) {
	if arr, ok := actual.([]any); ok {
		for _, item := range arr {
			if ok, _ := equals(item, expected); ok {
				return true, ""
			}
		}
		return false, fmt.Sprintf("expected array to include %v", expected)
	}
	if strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected)) {
		return true, ""
	}
	return false, fmt.Sprintf("expected '%v' to contain '%v'", actual, expected)
}

func matches(actual, expected any) (bool, string) {
	pattern := strings.TrimSuffix(strings.TrimPrefix(fmt.Sprintf("%v", expected), "/"), "/")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid regex pattern: %v", err)
	}
	if re.MatchString(fmt.Sprintf("%v", actual)) {
		return true, ""
	}
	return false, fmt.Sprintf("expected '%v' to match /%v/", actual, pattern)
}

// computeLength returns the length of a value, or -1 if it has none.
func computeLength(actual any) int {
	switch v := actual.(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	return -1
}

func length(actual, expected any) (bool, string) {
	want, ok := toInt(expected)
	if !ok {
		return false, fmt.Sprintf("expected length must be a number, got %v", expected)
	}
	got := computeLength(actual)
	if got == -1 {
		return false, fmt.Sprintf("cannot get length of %T", actual)
	}
	if got == want {
		return true, ""
	}
	return false, fmt.Sprintf("expected length %d, got %d", want, got)
}

func typeCheck(actual, expected any) (bool, string) {
	want := fmt.Sprintf("%v", expected)
	var got string
	switch actual.(type) {
	case nil:
		got = "null"
	case bool:
		got = "boolean"
	case float64, float32, int, int64, int32:
		got = "number"
	case string:
		got = "string"
	case []any:
		got = "array"
	case map[string]any:
		got = "object"
	default:
		got = reflect.TypeOf(actual).String()
	}
	if got == want {
		return true, ""
	}
	return false, fmt.Sprintf("expected type %s, got %s", want, got)
}

func in(actual, expected any) (bool, string) {
	arr, ok := expected.([]any)
	if !ok {
		return false, fmt.Sprintf("expected a list for 'in', got %T", expected)
	}
	for _, item := range arr {
		if ok, _ := equals(actual, item); ok {
			return true, ""
		}
	}
	return false, fmt.Sprintf("expected %v to be in %v", actual, expected)
}

func (e *Evaluator) schema(actual, expected any) (bool, string) {
	schemaPath := fmt.Sprintf("%v", expected)
	if !filepath.IsAbs(schemaPath) && e.baseDir != "" {
		schemaPath = filepath.Join(e.baseDir, schemaPath)
	}
	if err := validatePathWithinBase(schemaPath, e.baseDir); err != nil {
		return false, err.Error()
	}

	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		return false, fmt.Sprintf("failed to read schema file: %v", err)
	}
	doc, err := json.Marshal(actual)
	if err != nil {
		return false, fmt.Sprintf("failed to marshal actual value: %v", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaData), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return false, fmt.Sprintf("schema validation error: %v", err)
	}
	if result.Valid() {
		return true, ""
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return false, fmt.Sprintf("schema validation failed: %s", strings.Join(errs, "; "))
}

// validatePathWithinBase rejects schema paths that escape baseDir.
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}
	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}
	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}
	if cleanPath != cleanBase && !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}
	return nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}
