package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// JSONOutput is the document written by the json format.
type JSONOutput struct {
	RunID      string                 `json:"runId"`
	StartedAt  time.Time              `json:"startedAt"`
	FinishedAt time.Time              `json:"finishedAt"`
	Summary    JSONSummary            `json:"summary"`
	Units      []JSONUnit             `json:"units"`
	Bugs       []*bugreport.BugReport `json:"bugs"`
}

// JSONSummary carries the run counts. Durations are in milliseconds.
type JSONSummary struct {
	aggregate.Counts
	Attempts   int                                 `json:"attempts"`
	FlakyRate  float64                             `json:"flakyRate"`
	Duration   float64                             `json:"duration"`
	P50        float64                             `json:"p50"`
	P95        float64                             `json:"p95"`
	P99        float64                             `json:"p99"`
	Max        float64                             `json:"max"`
	ByCategory map[model.Category]aggregate.Counts `json:"byCategory"`
	OK         bool                                `json:"ok"`
}

// JSONUnit is the outcome of one unit.
type JSONUnit struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category model.Category  `json:"category"`
	Tags     []string        `json:"tags,omitempty"`
	Source   string          `json:"source,omitempty"`
	Status   model.Status    `json:"status"`
	Duration float64         `json:"duration"`
	Error    string          `json:"error,omitempty"`
	Bug      string          `json:"bug,omitempty"`
	Attempts []model.Attempt `json:"attempts"`
}

type JSONFormatter struct {
	writer io.Writer
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) Export(rs *aggregate.ResultSet, reports []*bugreport.BugReport) error {
	s := rs.Summary()
	bugs := bugsByUnit(reports)

	out := JSONOutput{
		RunID:      rs.RunID,
		StartedAt:  rs.StartedAt,
		FinishedAt: rs.FinishedAt,
		Summary: JSONSummary{
			Counts:     s.Counts,
			Attempts:   s.Attempts,
			FlakyRate:  s.FlakyRate,
			Duration:   ms(s.Duration),
			P50:        ms(s.P50),
			P95:        ms(s.P95),
			P99:        ms(s.P99),
			Max:        ms(s.Max),
			ByCategory: s.ByCategory,
			OK:         s.OK(),
		},
		Units: make([]JSONUnit, 0, rs.Len()),
		Bugs:  reports,
	}
	if out.Bugs == nil {
		out.Bugs = []*bugreport.BugReport{}
	}

	for _, o := range rs.Submitted() {
		u := o.Unit()
		unit := JSONUnit{
			ID:       u.ID,
			Name:     u.DisplayName(),
			Category: u.Category,
			Tags:     u.Tags,
			Source:   u.Source,
			Status:   o.Status(),
			Duration: ms(o.Duration()),
			Attempts: o.Attempts(),
		}
		if o.Status() != model.StatusPass && o.Status() != model.StatusFlaky {
			unit.Error, _ = failureDetail(o)
		}
		if r, ok := bugs[u.ID]; ok {
			unit.Bug = r.ID
		}
		out.Units = append(out.Units, unit)
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
