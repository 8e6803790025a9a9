package bugreport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Write(t *testing.T) {
	rs := resultSet(t,
		failing("login", model.CategoryUI, model.StatusFail, "submit button missing", "open /login", "click submit"),
		failing("login-2", model.CategoryUI, model.StatusFail, "submit button missing"),
	)
	reports := NewGenerator(WithEnvironment(Environment{"browser": "firefox"})).Generate(rs)
	require.Len(t, reports, 1)

	dir := filepath.Join(t.TempDir(), "bugs")
	paths, err := NewWriter(dir).Write(reports)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	md, err := os.ReadFile(filepath.Join(dir, reports[0].ID+".md"))
	require.NoError(t, err)
	text := string(md)
	assert.Contains(t, text, "# Bug Report: "+reports[0].ID)
	assert.Contains(t, text, "**Severity:** minor | **Priority:** P3")
	assert.Contains(t, text, "1. open /login")
	assert.Contains(t, text, "2. click submit")
	assert.Contains(t, text, "- **browser:** firefox")
	assert.Contains(t, text, "The same failure was seen in 2 units")
	assert.Contains(t, text, "[shot.png](file:///tmp/login.png)")

	data, err := os.ReadFile(filepath.Join(dir, reports[0].ID+".json"))
	require.NoError(t, err)
	var decoded BugReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Occurrences)
	assert.Equal(t, reports[0].Fingerprint, decoded.Fingerprint)
}

func TestWriter_NothingToWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bugs")
	paths, err := NewWriter(dir).Write(nil)
	require.NoError(t, err)
	assert.Empty(t, paths)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_WithHistory(t *testing.T) {
	rs := resultSet(t, failing("checkout", model.CategoryAPI, model.StatusFail, "502 Bad Gateway"))
	reports := NewGenerator().Generate(rs)
	require.Len(t, reports, 1)

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	history := map[string]History{
		reports[0].Fingerprint: {FirstSeen: first, LastSeen: first.Add(48 * time.Hour), Runs: 3, TotalOccurrences: 5},
	}

	dir := t.TempDir()
	_, err := NewWriter(dir, WithHistory(history)).Write(reports)
	require.NoError(t, err)

	md, err := os.ReadFile(filepath.Join(dir, reports[0].ID+".md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "seen in 3 run(s) since 2026-03-01T09:00:00Z, 5 occurrence(s) in total")

	data, err := os.ReadFile(filepath.Join(dir, reports[0].ID+".json"))
	require.NoError(t, err)
	var decoded struct {
		ID      string  `json:"id"`
		History History `json:"history"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, reports[0].ID, decoded.ID)
	assert.Equal(t, 5, decoded.History.TotalOccurrences)

	plain, err := Render(reports[0])
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "**History:**")
}
