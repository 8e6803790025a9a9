package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// JUnit XML structures

// JUnitTestSuites is the root element
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite holds the units of one category.
type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase represents a single test case
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitFailure represents a test failure
type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitError represents a test error
type JUnitError struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitSkipped represents a skipped test
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFormatter groups units into one suite per category. Flaky units are
// reported as passing with a note in system-out; timeouts are failures.
type JUnitFormatter struct {
	writer io.Writer
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) {
		f.writer = w
	}
}

func (f *JUnitFormatter) Export(rs *aggregate.ResultSet, reports []*bugreport.BugReport) error {
	timestamp := rs.StartedAt.Format(time.RFC3339)
	bugs := bugsByUnit(reports)

	suites := make(map[model.Category]*JUnitTestSuite)
	var order []model.Category
	for _, o := range rs.Submitted() {
		u := o.Unit()
		suite, ok := suites[u.Category]
		if !ok {
			suite = &JUnitTestSuite{Name: string(u.Category), Timestamp: timestamp}
			suites[u.Category] = suite
			order = append(order, u.Category)
		}

		className := string(u.Category)
		if u.Source != "" {
			className = u.Source
		}
		tc := JUnitTestCase{
			Name:      u.DisplayName(),
			ClassName: className,
			Time:      o.Duration().Seconds(),
		}

		msg, trace := failureDetail(o)
		content := trace
		if r, ok := bugs[u.ID]; ok {
			content = strings.TrimSpace(fmt.Sprintf("%s\n\nbug: %s (%s, %s)", trace, r.ID, r.Severity, r.Priority))
		}

		switch o.Status() {
		case model.StatusSkipped:
			suite.Skipped++
			tc.Skipped = &JUnitSkipped{Message: msg}
		case model.StatusError:
			suite.Errors++
			tc.Error = &JUnitError{Message: msg, Type: "Error", Content: content}
		case model.StatusFail:
			suite.Failures++
			tc.Failure = &JUnitFailure{Message: msg, Type: "AssertionError", Content: content}
		case model.StatusTimeout:
			suite.Failures++
			tc.Failure = &JUnitFailure{Message: msg, Type: "Timeout", Content: content}
		case model.StatusFlaky:
			tc.SystemOut = fmt.Sprintf("flaky: passed on attempt %d", o.AttemptCount())
		}

		suite.Tests++
		suite.Time += tc.Time
		suite.TestCases = append(suite.TestCases, tc)
	}

	root := JUnitTestSuites{
		Name:      "qarun",
		Time:      rs.Duration().Seconds(),
		Timestamp: timestamp,
	}
	for _, c := range order {
		s := suites[c]
		root.Tests += s.Tests
		root.Failures += s.Failures
		root.Errors += s.Errors
		root.Skipped += s.Skipped
		root.TestSuites = append(root.TestSuites, *s)
	}

	fmt.Fprintf(f.writer, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	if err := encoder.Encode(root); err != nil {
		return err
	}
	_, err := fmt.Fprintln(f.writer)
	return err
}
