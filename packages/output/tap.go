package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// TAPFormatter formats results in TAP (Test Anything Protocol) version 13.
type TAPFormatter struct {
	writer io.Writer
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

func (f *TAPFormatter) Export(rs *aggregate.ResultSet, reports []*bugreport.BugReport) error {
	bugs := bugsByUnit(reports)
	outcomes := rs.Submitted()

	fmt.Fprintf(f.writer, "TAP version 13\n")
	fmt.Fprintf(f.writer, "1..%d\n", len(outcomes))

	for i, o := range outcomes {
		n := i + 1
		name := o.Unit().DisplayName()

		switch o.Status() {
		case model.StatusPass:
			fmt.Fprintf(f.writer, "ok %d - %s\n", n, name)
			continue
		case model.StatusFlaky:
			fmt.Fprintf(f.writer, "ok %d - %s\n", n, name)
			fmt.Fprintf(f.writer, "# flaky: passed on attempt %d\n", o.AttemptCount())
			continue
		case model.StatusSkipped:
			fmt.Fprintf(f.writer, "ok %d - %s # SKIP not started\n", n, name)
			continue
		}

		msg, _ := failureDetail(o)
		fmt.Fprintf(f.writer, "not ok %d - %s\n", n, name)
		fmt.Fprintf(f.writer, "  ---\n")
		fmt.Fprintf(f.writer, "  message: %s\n", escapeYAML(msg))
		fmt.Fprintf(f.writer, "  severity: %s\n", o.Status())
		fmt.Fprintf(f.writer, "  attempts: %d\n", o.AttemptCount())
		if r, ok := bugs[o.UnitID()]; ok {
			fmt.Fprintf(f.writer, "  bug: %s\n", r.ID)
		}
		fmt.Fprintf(f.writer, "  ...\n")
	}

	_, err := fmt.Fprintln(f.writer)
	return err
}

func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":\n\"'[]{}#&*!|>%@`") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		return "\"" + s + "\""
	}
	return s
}
