package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// Exporter writes a finished run and the bug reports derived from it.
type Exporter interface {
	Export(rs *aggregate.ResultSet, reports []*bugreport.BugReport) error
}

// Formats lists the names accepted by New.
var Formats = []string{"console", "json", "junit", "tap", "html"}

// Settings are shared by every format. Formats ignore what they do not use.
type Settings struct {
	Writer  io.Writer
	Verbose bool
	NoColor bool
	Version string
}

// New returns the exporter for a format name.
func New(format string, s Settings) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "console":
		opts := []ConsoleOption{WithVerbose(s.Verbose), WithNoColor(s.NoColor), WithVersion(s.Version)}
		if s.Writer != nil {
			opts = append(opts, WithWriter(s.Writer))
		}
		return NewConsoleFormatter(opts...), nil
	case "json":
		var opts []JSONOption
		if s.Writer != nil {
			opts = append(opts, JSONWithWriter(s.Writer))
		}
		return NewJSONFormatter(opts...), nil
	case "junit":
		var opts []JUnitOption
		if s.Writer != nil {
			opts = append(opts, JUnitWithWriter(s.Writer))
		}
		return NewJUnitFormatter(opts...), nil
	case "tap":
		var opts []TAPOption
		if s.Writer != nil {
			opts = append(opts, TAPWithWriter(s.Writer))
		}
		return NewTAPFormatter(opts...), nil
	case "html":
		opts := []HTMLOption{HTMLWithVersion(s.Version)}
		if s.Writer != nil {
			opts = append(opts, HTMLWithWriter(s.Writer))
		}
		return NewHTMLFormatter(opts...), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (expected %s)", format, strings.Join(Formats, ", "))
	}
}

// Extension returns the file extension used when a format is written to the
// output directory.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return ".json"
	case "junit":
		return ".xml"
	case "tap":
		return ".tap"
	case "html":
		return ".html"
	default:
		return ".txt"
	}
}

// bugsByUnit maps every unit id covered by a report to that report.
func bugsByUnit(reports []*bugreport.BugReport) map[string]*bugreport.BugReport {
	m := make(map[string]*bugreport.BugReport)
	for _, r := range reports {
		for _, id := range r.Units {
			m[id] = r
		}
	}
	return m
}

// failureDetail returns the message and trace explaining a non-passing
// outcome.
func failureDetail(o *model.Outcome) (msg string, trace string) {
	msg = o.FailureMessage()
	if a, ok := o.FailingAttempt(); ok && a.Failure != nil {
		trace = a.Failure.Trace
	}
	if msg == "" && o.Status() == model.StatusSkipped {
		msg = "not started"
	}
	return msg, trace
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
