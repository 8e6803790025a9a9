package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/fatih/color"
)

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
	version string

	mu      sync.Mutex
	printed map[string]bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer:  os.Stdout,
		printed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func WithVersion(v string) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.version = v
	}
}

func (f *ConsoleFormatter) FormatHeader(units int, concurrency int) {
	bold := color.New(color.Bold).SprintFunc()
	name := "qarun"
	if f.version != "" {
		name += " " + f.version
	}
	fmt.Fprintf(f.writer, "%s\n\nRunning %d unit(s) with %d worker(s)\n\n", bold(name), units, concurrency)
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

// Progress prints one outcome as soon as it is known. Outcomes printed here
// are not repeated by Export.
func (f *ConsoleFormatter) Progress(o *model.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.printed[o.UnitID()] {
		return
	}
	f.printed[o.UnitID()] = true
	f.formatOutcome(o)
}

func (f *ConsoleFormatter) formatOutcome(o *model.Outcome) {
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	magenta := color.New(color.FgMagenta).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	u := o.Unit()
	label := fmt.Sprintf("%s %s", u.DisplayName(), faint("["+string(u.Category)+"]"))
	timing := cyan(fmt.Sprintf("(%dms)", o.Duration().Milliseconds()))

	switch o.Status() {
	case model.StatusPass:
		fmt.Fprintf(f.writer, "  %s %s %s\n", color.GreenString("✓"), label, timing)
	case model.StatusFlaky:
		fmt.Fprintf(f.writer, "  %s %s %s %s\n", magenta("~"), label, timing,
			magenta(fmt.Sprintf("flaky, passed on attempt %d", o.AttemptCount())))
	case model.StatusSkipped:
		fmt.Fprintf(f.writer, "  %s %s %s\n", yellow("-"), label, faint("(not started)"))
		return
	case model.StatusTimeout:
		fmt.Fprintf(f.writer, "  %s %s %s\n", yellow("⏱"), label, yellow("timed out"))
	case model.StatusError:
		fmt.Fprintf(f.writer, "  %s %s %s\n", red("x"), label, timing)
	default:
		fmt.Fprintf(f.writer, "  %s %s %s\n", red("✗"), label, timing)
	}

	if o.Status() != model.StatusPass && o.Status() != model.StatusFlaky {
		msg, trace := failureDetail(o)
		if msg != "" {
			fmt.Fprintf(f.writer, "    %s %s\n", red("→"), msg)
		}
		if f.verbose && trace != "" && trace != msg {
			fmt.Fprintf(f.writer, "%s\n", faint(indent(trace, "      ")))
		}
	}

	if f.verbose {
		for _, a := range o.Attempts() {
			fmt.Fprintf(f.writer, "    attempt %d: %s (%dms)\n", a.Number, a.Status, a.Duration().Milliseconds())
			for _, s := range a.Steps {
				fmt.Fprintf(f.writer, "      %s\n", faint(s))
			}
			for _, ref := range a.Artifacts {
				fmt.Fprintf(f.writer, "      artifact %s → %s\n", ref.Name, ref.URI)
			}
		}
	}
}

// Export prints the outcomes Progress has not shown, followed by the summary
// and the list of bug reports.
func (f *ConsoleFormatter) Export(rs *aggregate.ResultSet, reports []*bugreport.BugReport) error {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	magenta := color.New(color.FgMagenta).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	f.mu.Lock()
	for _, o := range rs.Submitted() {
		if !f.printed[o.UnitID()] {
			f.printed[o.UnitID()] = true
			f.formatOutcome(o)
		}
	}
	f.mu.Unlock()

	s := rs.Summary()

	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Units:    ")
	parts := []struct {
		n     int
		label string
		paint func(a ...interface{}) string
	}{
		{s.Passed, "passed", green},
		{s.Flaky, "flaky", magenta},
		{s.Failed, "failed", red},
		{s.Errored, "errored", red},
		{s.Timeout, "timed out", yellow},
		{s.Skipped, "skipped", yellow},
	}
	for _, p := range parts {
		if p.n > 0 {
			fmt.Fprintf(f.writer, "%s, ", p.paint(fmt.Sprintf("%d %s", p.n, p.label)))
		}
	}
	fmt.Fprintf(f.writer, "%d total\n", s.Total)
	fmt.Fprintf(f.writer, "Attempts: %d (p50 %s, p95 %s, max %s)\n", s.Attempts, round(s.P50), round(s.P95), round(s.Max))
	if s.Flaky > 0 {
		fmt.Fprintf(f.writer, "Flaky:    %.1f%%\n", s.FlakyRate*100)
	}
	fmt.Fprintf(f.writer, "Time:     %dms\n", s.Duration.Milliseconds())

	if len(reports) > 0 {
		fmt.Fprintf(f.writer, "\n%s\n", bold(fmt.Sprintf("Bug reports (%d)", len(reports))))
		for _, r := range reports {
			sev := fmt.Sprintf("[%s %s]", r.Priority, r.Severity)
			if r.Severity == bugreport.SeverityCritical {
				sev = red(sev)
			} else {
				sev = yellow(sev)
			}
			fmt.Fprintf(f.writer, "  %s %s %s", sev, r.ID, r.Title)
			if r.Occurrences > 1 {
				fmt.Fprintf(f.writer, " (%d units)", r.Occurrences)
			}
			fmt.Fprintf(f.writer, "\n")
		}
	}

	fmt.Fprintf(f.writer, "\n")
	return nil
}

func round(d time.Duration) time.Duration {
	if d > time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Microsecond)
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}
