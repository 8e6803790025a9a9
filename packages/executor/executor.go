package executor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"gopkg.in/yaml.v3"
)

// Executor runs one attempt of a unit. Test failures are reported through the
// returned Attempt's status; a returned error means the executor itself could
// not be set up and the unit must not be retried.
type Executor interface {
	Run(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error)

func (f Func) Run(ctx context.Context, unit *model.TestUnit, attempt int) (*model.Attempt, error) {
	return f(ctx, unit, attempt)
}

// Constructor builds a fresh executor instance.
type Constructor func() (Executor, error)

// Registry maps executor names to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// RegisterInstance registers a constructor that always returns e. Use it only
// for executors that are safe to share between workers.
func (r *Registry) RegisterInstance(name string, e Executor) {
	r.Register(name, func() (Executor, error) { return e, nil })
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

// Names returns the registered executor names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Session opens a per-worker view of the registry.
func (r *Registry) Session() *Session {
	return &Session{
		registry: r,
		cache:    make(map[string]Executor),
	}
}

// Session lazily builds one executor instance per name and keeps it for the
// lifetime of a single worker. It is not safe for concurrent use.
type Session struct {
	registry *Registry
	cache    map[string]Executor
}

// Get returns the worker's executor for name, constructing it on first use.
// Construction failures are returned as *model.SetupError and are not cached,
// so the next unit gets a fresh try.
func (s *Session) Get(name string) (Executor, error) {
	if e, ok := s.cache[name]; ok {
		return e, nil
	}

	s.registry.mu.RLock()
	c, ok := s.registry.constructors[name]
	s.registry.mu.RUnlock()
	if !ok {
		return nil, &model.SetupError{Executor: name, Err: model.ErrUnknownExecutor}
	}

	e, err := c()
	if err != nil {
		return nil, &model.SetupError{Executor: name, Err: err}
	}
	s.cache[name] = e
	return e, nil
}

// Close releases every executor that implements io.Closer.
func (s *Session) Close() error {
	var firstErr error
	for name, e := range s.cache {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing executor %s: %w", name, err)
			}
		}
	}
	s.cache = make(map[string]Executor)
	return firstErr
}

// decodeSpec converts a unit's opaque spec map into a typed struct.
func decodeSpec(spec map[string]any, out any) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding spec: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding spec: %w", err)
	}
	return nil
}
