package bugreport

import (
	"os"
	"runtime"
	"sort"
)

// Environment is a snapshot of where the run happened, attached to every
// report.
type Environment map[string]string

// SnapshotEnvironment records the platform plus the named environment and any
// extra values (browser, base URLs, run id).
func SnapshotEnvironment(name string, extra map[string]string) Environment {
	env := Environment{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
	}
	if host, err := os.Hostname(); err == nil {
		env["hostname"] = host
	}
	if name != "" {
		env["environment"] = name
	}
	for k, v := range extra {
		if v != "" {
			env[k] = v
		}
	}
	return env
}

// Keys returns the keys in sorted order.
func (e Environment) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e Environment) clone() Environment {
	c := make(Environment, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}
