package env

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// WarnFunc receives warnings about placeholders that could not be resolved.
type WarnFunc func(format string, args ...any)

// Resolver substitutes placeholders. It is safe for concurrent use, so one
// resolver can be shared by every worker of a run.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]any
	warnFunc  WarnFunc
}

func NewResolver() *Resolver {
	return &Resolver{
		variables: make(map[string]any),
	}
}

// SetWarnFunc installs a callback for unresolved placeholders.
func (r *Resolver) SetWarnFunc(fn WarnFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnFunc = fn
}

func (r *Resolver) warn(format string, args ...any) {
	r.mu.RLock()
	fn := r.warnFunc
	r.mu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}

func (r *Resolver) SetVariables(vars map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range vars {
		r.variables[k] = v
	}
}

func (r *Resolver) SetVariable(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

func (r *Resolver) GetVariable(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variables[name]
	return v, ok
}

// Variables returns a copy of every known variable.
func (r *Resolver) Variables() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.variables))
	for k, v := range r.variables {
		out[k] = v
	}
	return out
}

// Resolve replaces every placeholder it can. Unknown placeholders are left in
// place and reported through the warn callback.
func (r *Resolver) Resolve(input string) string {
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		if v, ok := r.lookup(match); ok {
			return v
		}
		r.warn("unresolved placeholder: %s", match)
		return match
	})
}

// ResolveAll resolves every value of a map.
func (r *Resolver) ResolveAll(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for k, v := range values {
		result[k] = r.Resolve(v)
	}
	return result
}

// Unresolved lists the placeholders in input that cannot be resolved.
func (r *Resolver) Unresolved(input string) []string {
	var missing []string
	for _, match := range variablePattern.FindAllString(input, -1) {
		if _, ok := r.lookup(match); !ok {
			missing = append(missing, match)
		}
	}
	return missing
}

func (r *Resolver) lookup(match string) (string, bool) {
	expr := strings.TrimSpace(match[2 : len(match)-2])

	if strings.HasPrefix(expr, "$") {
		val, ok := os.LookupEnv(expr[1:])
		return val, ok
	}

	if name, found := strings.CutSuffix(expr, "()"); found {
		return callBuiltin(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if val, ok := r.variables[expr]; ok {
		return fmt.Sprintf("%v", val), true
	}
	return "", false
}

func callBuiltin(name string) (string, bool) {
	switch name {
	case "uuid":
		return uuid.New().String(), true
	case "timestamp":
		return strconv.FormatInt(time.Now().Unix(), 10), true
	case "now":
		return time.Now().UTC().Format(time.RFC3339), true
	default:
		return "", false
	}
}
