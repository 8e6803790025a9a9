package env

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver()
	r.SetVariables(map[string]any{"baseUrl": "http://localhost:8080", "port": 8080})
	t.Setenv("QARUN_TEST_TOKEN", "s3cret")

	assert.Equal(t, "http://localhost:8080/users", r.Resolve("{{baseUrl}}/users"))
	assert.Equal(t, "port 8080", r.Resolve("port {{ port }}"))
	assert.Equal(t, "Bearer s3cret", r.Resolve("Bearer {{$QARUN_TEST_TOKEN}}"))
	assert.Len(t, r.Resolve("{{uuid()}}"), 36)
	assert.NotEqual(t, "{{timestamp()}}", r.Resolve("{{timestamp()}}"))
}

func TestResolver_UnresolvedWarns(t *testing.T) {
	r := NewResolver()
	var warnings []string
	r.SetWarnFunc(func(format string, args ...any) {
		warnings = append(warnings, format)
	})

	assert.Equal(t, "{{missing}}", r.Resolve("{{missing}}"))
	assert.Len(t, warnings, 1)
	assert.Equal(t, []string{"{{missing}}", "{{nope()}}"}, r.Unresolved("{{missing}} {{nope()}}"))
}

func TestResolver_ResolveAll(t *testing.T) {
	r := NewResolver()
	r.SetVariable("token", "abc")

	out := r.ResolveAll(map[string]string{"Authorization": "Bearer {{token}}"})
	assert.Equal(t, "Bearer abc", out["Authorization"])
}

func TestResolver_Concurrent(t *testing.T) {
	r := NewResolver()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.SetVariable("v", i)
			_ = r.Resolve("{{v}}")
		}(i)
	}
	wg.Wait()

	_, ok := r.GetVariable("v")
	require.True(t, ok)
}
