package bugreport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"
)

const markdownTemplate = `# Bug Report: {{ .ID }}

**Title:** {{ .Title }}

**Status:** {{ .Status }} | **Severity:** {{ .Severity }} | **Priority:** {{ .Priority }}

**Created:** {{ .CreatedAt | isotime }} | **Occurrences:** {{ .Occurrences }}
{{- with .History }}

**History:** seen in {{ .Runs }} run(s) since {{ .FirstSeen | isotime }}, {{ .TotalOccurrences }} occurrence(s) in total
{{- end }}

---

## Description
Unit ` + "`{{ .UnitID }}`" + ` ({{ .Category }}) ended with status {{ .OutcomeStatus }}.
{{- if gt (len .Units) 1 }}

The same failure was seen in {{ len .Units }} units:
{{ range .Units }}
- {{ . }}
{{- end }}
{{- end }}

## Steps to Reproduce
{{ range $i, $s := .Steps }}
{{ inc $i }}. {{ $s }}
{{- end }}

## Expected Result
{{ .Expected }}

## Actual Result
{{ .Actual }}
{{- if .Trace }}

` + "```" + `
{{ .Trace }}
` + "```" + `
{{- end }}

## Environment
{{ range $k := .Environment.Keys }}
- **{{ $k }}:** {{ index $.Environment $k }}
{{- end }}

## Attachments
{{- if .Artifacts }}
{{ range .Artifacts }}
- [{{ .Name }}]({{ .URI }}) ({{ .Size }} bytes)
{{- end }}
{{- else }}
No attachments available
{{- end }}

## Notes
Fingerprint ` + "`{{ .Fingerprint }}`" + `. This report was generated automatically.
`

var ticketTemplate = template.Must(template.New("bug").Funcs(template.FuncMap{
	"inc":     func(i int) int { return i + 1 },
	"isotime": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(markdownTemplate))

// History is what earlier runs recorded about a fingerprint.
type History struct {
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	Runs             int       `json:"runs"`
	TotalOccurrences int       `json:"totalOccurrences"`
}

// ticket is what the templates and the JSON file see.
type ticket struct {
	*BugReport
	History *History `json:"history,omitempty"`
}

// Writer saves reports as BUG-<fingerprint>.md and BUG-<fingerprint>.json.
type Writer struct {
	dir     string
	history map[string]History
}

type WriterOption func(*Writer)

// WithHistory attaches cross-run history, keyed by fingerprint.
func WithHistory(h map[string]History) WriterOption {
	return func(w *Writer) {
		w.history = h
	}
}

func NewWriter(dir string, opts ...WriterOption) *Writer {
	w := &Writer{dir: dir}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Render returns the Markdown form of a report.
func Render(r *BugReport) ([]byte, error) {
	return render(ticket{BugReport: r})
}

func render(t ticket) ([]byte, error) {
	var buf bytes.Buffer
	if err := ticketTemplate.Execute(&buf, t); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", t.ID, err)
	}
	return buf.Bytes(), nil
}

func (w *Writer) ticket(r *BugReport) ticket {
	t := ticket{BugReport: r}
	if h, ok := w.history[r.Fingerprint]; ok {
		t.History = &h
	}
	return t
}

// Write renders every report and returns the paths written.
func (w *Writer) Write(reports []*BugReport) ([]string, error) {
	if len(reports) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating bug directory: %w", err)
	}

	var paths []string
	for _, r := range reports {
		t := w.ticket(r)
		md, err := render(t)
		if err != nil {
			return paths, err
		}
		mdPath := filepath.Join(w.dir, r.ID+".md")
		if err := os.WriteFile(mdPath, md, 0644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", mdPath, err)
		}
		paths = append(paths, mdPath)

		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return paths, fmt.Errorf("encoding %s: %w", r.ID, err)
		}
		jsonPath := filepath.Join(w.dir, r.ID+".json")
		if err := os.WriteFile(jsonPath, data, 0644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", jsonPath, err)
		}
		paths = append(paths, jsonPath)
	}
	return paths, nil
}
