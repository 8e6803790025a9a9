package aggregate

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// Attempt durations are recorded in microseconds between 1us and one hour.
const (
	histogramMin     = 1
	histogramMax     = int64(time.Hour / time.Microsecond)
	histogramSigFigs = 3
)

// Counts tallies outcomes by status.
type Counts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Flaky   int `json:"flaky"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Timeout int `json:"timeout"`
	Skipped int `json:"skipped"`
}

func (c *Counts) add(s model.Status) {
	c.Total++
	switch s {
	case model.StatusPass:
		c.Passed++
	case model.StatusFlaky:
		c.Flaky++
	case model.StatusFail:
		c.Failed++
	case model.StatusError:
		c.Errored++
	case model.StatusTimeout:
		c.Timeout++
	case model.StatusSkipped:
		c.Skipped++
	}
}

// Of returns the count for one status.
func (c Counts) Of(s model.Status) int {
	switch s {
	case model.StatusPass:
		return c.Passed
	case model.StatusFlaky:
		return c.Flaky
	case model.StatusFail:
		return c.Failed
	case model.StatusError:
		return c.Errored
	case model.StatusTimeout:
		return c.Timeout
	case model.StatusSkipped:
		return c.Skipped
	}
	return 0
}

// Summary is the run-wide view derived from a ResultSet.
type Summary struct {
	Counts
	Attempts   int                       `json:"attempts"`
	FlakyRate  float64                   `json:"flakyRate"`
	Duration   time.Duration             `json:"duration"`
	P50        time.Duration             `json:"p50"`
	P95        time.Duration             `json:"p95"`
	P99        time.Duration             `json:"p99"`
	Max        time.Duration             `json:"max"`
	ByCategory map[model.Category]Counts `json:"byCategory"`
}

// OK reports whether no unit ended in fail or error. Timeouts are reported
// but do not fail the run.
func (s Summary) OK() bool {
	return s.Failed+s.Errored == 0
}

// Summary computes counts, flaky rate, wall-clock duration and attempt
// duration percentiles.
func (rs *ResultSet) Summary() Summary {
	s := Summary{
		Duration:   rs.Duration(),
		ByCategory: make(map[model.Category]Counts),
	}
	hist := hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)

	for _, o := range rs.Outcomes() {
		s.add(o.Status())
		cat := s.ByCategory[o.Unit().Category]
		cat.add(o.Status())
		s.ByCategory[o.Unit().Category] = cat

		for _, a := range o.Attempts() {
			s.Attempts++
			_ = hist.RecordValue(clamp(a.Duration().Microseconds()))
		}
	}

	if s.Total > 0 {
		s.FlakyRate = float64(s.Flaky) / float64(s.Total)
	}
	if hist.TotalCount() > 0 {
		s.P50 = micros(hist.ValueAtQuantile(50))
		s.P95 = micros(hist.ValueAtQuantile(95))
		s.P99 = micros(hist.ValueAtQuantile(99))
		s.Max = micros(hist.Max())
	}
	return s
}

func clamp(us int64) int64 {
	if us < histogramMin {
		return histogramMin
	}
	if us > histogramMax {
		return histogramMax
	}
	return us
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
