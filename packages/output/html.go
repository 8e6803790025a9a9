package output

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

//go:embed report.html.tmpl
var htmlTemplate string

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct": func(f float64) string { return fmt.Sprintf("%.1f", f*100) },
}).Parse(htmlTemplate))

// HTMLOutput is the data handed to the report template.
type HTMLOutput struct {
	Version  string
	RunID    string
	Time     string
	Duration float64
	Summary  aggregate.Summary
	Units    []HTMLUnit
	Bugs     []*bugreport.BugReport
}

// HTMLUnit is one row of the report.
type HTMLUnit struct {
	ID          string
	Name        string
	Category    model.Category
	Status      model.Status
	StatusClass string
	Duration    float64
	Error       string
	Bug         string
	Attempts    []model.Attempt
}

// HTMLFormatter writes a standalone HTML report.
type HTMLFormatter struct {
	writer  io.Writer
	version string
}

// HTMLOption is a functional option for HTMLFormatter
type HTMLOption func(*HTMLFormatter)

func NewHTMLFormatter(opts ...HTMLOption) *HTMLFormatter {
	f := &HTMLFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HTMLWithWriter sets the output writer
func HTMLWithWriter(w io.Writer) HTMLOption {
	return func(f *HTMLFormatter) {
		f.writer = w
	}
}

// HTMLWithVersion sets the version shown in the footer.
func HTMLWithVersion(v string) HTMLOption {
	return func(f *HTMLFormatter) {
		f.version = v
	}
}

func (f *HTMLFormatter) Export(rs *aggregate.ResultSet, reports []*bugreport.BugReport) error {
	bugs := bugsByUnit(reports)
	out := HTMLOutput{
		Version:  f.version,
		RunID:    rs.RunID,
		Time:     rs.StartedAt.Format(time.DateTime),
		Duration: ms(rs.Duration()),
		Summary:  rs.Summary(),
		Bugs:     reports,
	}

	for _, o := range rs.Submitted() {
		u := o.Unit()
		row := HTMLUnit{
			ID:          u.ID,
			Name:        u.DisplayName(),
			Category:    u.Category,
			Status:      o.Status(),
			StatusClass: statusClass(o.Status()),
			Duration:    ms(o.Duration()),
			Attempts:    o.Attempts(),
		}
		if o.Status() != model.StatusPass && o.Status() != model.StatusFlaky {
			row.Error, _ = failureDetail(o)
		}
		if r, ok := bugs[u.ID]; ok {
			row.Bug = r.ID
		}
		out.Units = append(out.Units, row)
	}

	if err := reportTemplate.Execute(f.writer, out); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return nil
}

func statusClass(s model.Status) string {
	switch s {
	case model.StatusPass:
		return "passed"
	case model.StatusFlaky:
		return "flaky"
	case model.StatusSkipped, model.StatusTimeout:
		return "skipped"
	default:
		return "failed"
	}
}
