// Package metrics exports run metrics to JSON files, Prometheus and DataDog.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// UnitMetrics is recorded once per outcome as it arrives.
type UnitMetrics struct {
	RunID      string         `json:"run_id"`
	UnitID     string         `json:"unit_id"`
	Name       string         `json:"name"`
	Category   model.Category `json:"category"`
	Status     model.Status   `json:"status"`
	Attempts   int            `json:"attempts"`
	DurationMs float64        `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RunMetrics is the run-wide view exported when the run finishes.
type RunMetrics struct {
	RunID      string                              `json:"run_id"`
	Total      int                                 `json:"total"`
	Passed     int                                 `json:"passed"`
	Flaky      int                                 `json:"flaky"`
	Failed     int                                 `json:"failed"`
	Errored    int                                 `json:"errored"`
	TimedOut   int                                 `json:"timed_out"`
	Skipped    int                                 `json:"skipped"`
	Attempts   int                                 `json:"attempts"`
	FlakyRate  float64                             `json:"flaky_rate"`
	DurationMs float64                             `json:"duration_ms"`
	P50Ms      float64                             `json:"p50_ms"`
	P95Ms      float64                             `json:"p95_ms"`
	P99Ms      float64                             `json:"p99_ms"`
	MaxMs      float64                             `json:"max_ms"`
	ByCategory map[model.Category]aggregate.Counts `json:"by_category"`
}

func toMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// FromOutcome converts one outcome.
func FromOutcome(runID string, o *model.Outcome, now time.Time) *UnitMetrics {
	return &UnitMetrics{
		RunID:      runID,
		UnitID:     o.UnitID(),
		Name:       o.Unit().DisplayName(),
		Category:   o.Unit().Category,
		Status:     o.Status(),
		Attempts:   o.AttemptCount(),
		DurationMs: toMs(o.Duration()),
		Timestamp:  now,
	}
}

// FromResultSet converts the summary of a finished run.
func FromResultSet(rs *aggregate.ResultSet) *RunMetrics {
	s := rs.Summary()
	return &RunMetrics{
		RunID:      rs.RunID,
		Total:      s.Total,
		Passed:     s.Passed,
		Flaky:      s.Flaky,
		Failed:     s.Failed,
		Errored:    s.Errored,
		TimedOut:   s.Timeout,
		Skipped:    s.Skipped,
		Attempts:   s.Attempts,
		FlakyRate:  s.FlakyRate,
		DurationMs: toMs(s.Duration),
		P50Ms:      toMs(s.P50),
		P95Ms:      toMs(s.P95),
		P99Ms:      toMs(s.P99),
		MaxMs:      toMs(s.Max),
		ByCategory: s.ByCategory,
	}
}

// Exporter is the interface for metrics exporters
type Exporter interface {
	// Export exports run metrics to the target destination
	Export(metrics *RunMetrics) error

	// ExportSingle exports the metrics of one unit
	ExportSingle(metric *UnitMetrics) error

	// Close closes the exporter and flushes any buffered data
	Close() error
}

// Collector fans metrics out to its exporters.
type Collector struct {
	mu        sync.Mutex
	runID     string
	exporters []Exporter
	now       func() time.Time
	errs      []error
}

func NewCollector(runID string, exporters ...Exporter) *Collector {
	return &Collector{
		runID:     runID,
		exporters: exporters,
		now:       time.Now,
	}
}

// Len returns the number of exporters.
func (c *Collector) Len() int {
	return len(c.exporters)
}

// Record exports the metrics of one outcome. Errors are kept and returned by
// Flush so that a failing exporter does not interrupt the run.
func (c *Collector) Record(o *model.Outcome) {
	m := FromOutcome(c.runID, o, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, exp := range c.exporters {
		if err := exp.ExportSingle(m); err != nil {
			c.errs = append(c.errs, err)
		}
	}
}

// Flush exports the run metrics and returns every error seen since the
// collector was created.
func (c *Collector) Flush(rs *aggregate.ResultSet) error {
	m := FromResultSet(rs)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, exp := range c.exporters {
		if err := exp.Export(m); err != nil {
			c.errs = append(c.errs, err)
		}
	}
	err := errors.Join(c.errs...)
	c.errs = nil
	return err
}

// Close closes all exporters
func (c *Collector) Close() error {
	var errs []error
	for _, exp := range c.exporters {
		if err := exp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
