package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/assertions"
	"github.com/abdul-hamid-achik/qarun/packages/core/env"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/abdul-hamid-achik/qarun/packages/http"
)

// APIName is the registry name of the api executor.
const APIName = "api"

// defaultCheck applies when a unit lists no expectations.
var defaultCheck = assertions.Check{Subject: "status", Op: string(assertions.OpLess), Value: 400}

type apiSpec struct {
	Request struct {
		Method  string            `yaml:"method"`
		URL     string            `yaml:"url"`
		Headers map[string]string `yaml:"headers"`
		Query   map[string]string `yaml:"query"`
		Body    any               `yaml:"body"`
		Auth    struct {
			Bearer string `yaml:"bearer"`
			Basic  struct {
				User     string `yaml:"user"`
				Password string `yaml:"password"`
			} `yaml:"basic"`
		} `yaml:"auth"`
	} `yaml:"request"`
	Expect []assertions.Check `yaml:"expect"`
}

// APIExecutor performs one HTTP request per attempt and evaluates the unit's
// checks against the response.
type APIExecutor struct {
	client   *http.Client
	resolver *env.Resolver
	now      func() time.Time
}

type APIOption func(*APIExecutor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) APIOption {
	return func(e *APIExecutor) {
		e.client = c
	}
}

// WithResolver sets the resolver used for {{variable}} placeholders.
func WithResolver(r *env.Resolver) APIOption {
	return func(e *APIExecutor) {
		e.resolver = r
	}
}

func NewAPIExecutor(opts ...APIOption) *APIExecutor {
	e := &APIExecutor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = http.NewClient()
	}
	if e.resolver == nil {
		e.resolver = env.NewResolver()
	}
	return e
}

// Close releases pooled connections.
func (e *APIExecutor) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *APIExecutor) Run(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
	var spec apiSpec
	if err := decodeSpec(unit.Spec, &spec); err != nil {
		return nil, &model.SetupError{Executor: APIName, Err: fmt.Errorf("unit %s: %w", unit.ID, err)}
	}
	if spec.Request.URL == "" {
		return nil, &model.SetupError{Executor: APIName, Err: fmt.Errorf("unit %s: request.url is required", unit.ID)}
	}

	a := &model.Attempt{Number: attempt, StartedAt: e.now()}
	defer func() { a.EndedAt = e.now() }()

	req, err := e.buildRequest(&spec)
	if err != nil {
		return nil, &model.SetupError{Executor: APIName, Err: fmt.Errorf("unit %s: %w", unit.ID, err)}
	}
	a.Steps = append(a.Steps, "submit request "+req.String())

	resp, err := e.client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			a.Status = model.StatusTimeout
			a.Failure = &model.Failure{Message: fmt.Sprintf("request %s timed out", req.String()), Trace: err.Error()}
			return a, nil
		}
		a.Status = model.StatusError
		a.Failure = &model.Failure{Message: fmt.Sprintf("request %s failed: %v", req.String(), err)}
		return a, nil
	}
	a.Steps = append(a.Steps, fmt.Sprintf("receive %s in %dms", resp.Status, resp.DurationMs()))

	checks := spec.Expect
	if len(checks) == 0 {
		checks = []assertions.Check{defaultCheck}
	}

	evaluator := assertions.NewEvaluator(resp, baseDir(unit))
	var failed []string
	for _, r := range evaluator.EvaluateAll(checks) {
		a.Steps = append(a.Steps, r.Check.String())
		if !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Check.String(), r.Message))
		}
	}

	if len(failed) == 0 {
		a.Status = model.StatusPass
		return a, nil
	}

	a.Status = model.StatusFail
	a.Failure = &model.Failure{Message: failed[0], Trace: strings.Join(failed, "\n")}
	a.Captures = append(a.Captures, model.Blob{Name: responseArtifactName(resp), Data: resp.Body})
	return a, nil
}

func (e *APIExecutor) buildRequest(spec *apiSpec) (*http.Request, error) {
	r := spec.Request
	req := http.NewRequest(e.resolver.Resolve(r.Method), e.resolver.Resolve(r.URL))
	for k, v := range e.resolver.ResolveAll(r.Headers) {
		req.SetHeader(k, v)
	}
	for k, v := range e.resolver.ResolveAll(r.Query) {
		req.SetQueryParam(k, v)
	}

	switch body := r.Body.(type) {
	case nil:
	case string:
		req.SetBody(e.resolver.Resolve(body))
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		req.SetBody(e.resolver.Resolve(string(data)))
		if _, ok := req.Headers["Content-Type"]; !ok {
			req.SetHeader("Content-Type", "application/json")
		}
	}

	req.BearerToken = e.resolver.Resolve(r.Auth.Bearer)
	req.BasicUser = e.resolver.Resolve(r.Auth.Basic.User)
	req.BasicPassword = e.resolver.Resolve(r.Auth.Basic.Password)
	return req, nil
}

func responseArtifactName(resp *http.Response) string {
	if resp.IsJSON() {
		return "response.json"
	}
	return "response.txt"
}

func baseDir(unit *model.TestUnit) string {
	if unit.Source == "" {
		return ""
	}
	return filepath.Dir(unit.Source)
}
