package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// PrometheusExporter renders metrics in the Prometheus text format. It can
// write them to a writer or file after each run and serve the latest run on
// /metrics.
type PrometheusExporter struct {
	mu       sync.RWMutex
	run      *RunMetrics
	units    map[string]*UnitMetrics
	writer   io.Writer
	filePath string
	server   *http.Server
}

// PrometheusOption is a functional option for PrometheusExporter
type PrometheusOption func(*PrometheusExporter)

// WithPrometheusWriter sets the output writer for Prometheus metrics
func WithPrometheusWriter(w io.Writer) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.writer = w
	}
}

// WithPrometheusFile writes the metrics to path after each run.
func WithPrometheusFile(path string) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.filePath = path
	}
}

func NewPrometheusExporter(opts ...PrometheusOption) *PrometheusExporter {
	p := &PrometheusExporter{
		units: make(map[string]*UnitMetrics),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Serve starts an HTTP endpoint on addr and returns the bound address.
func (p *PrometheusExporter) Serve(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", p.handleMetrics)
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Prometheus HTTP server error: %v\n", err)
		}
	}()
	return ln.Addr(), nil
}

func (p *PrometheusExporter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	p.writeMetrics(w)
}

// Export replaces the run metrics and writes them out.
func (p *PrometheusExporter) Export(metrics *RunMetrics) error {
	p.mu.Lock()
	p.run = metrics
	p.mu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.writer != nil {
		p.writeMetrics(p.writer)
	}
	if p.filePath != "" {
		f, err := os.Create(p.filePath)
		if err != nil {
			return fmt.Errorf("failed to create metrics file: %w", err)
		}
		p.writeMetrics(f)
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}
	return nil
}

// ExportSingle records a unit metric
func (p *PrometheusExporter) ExportSingle(metric *UnitMetrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run != nil && p.run.RunID != metric.RunID {
		// A new run in watch mode.
		p.units = make(map[string]*UnitMetrics)
		p.run = nil
	}
	p.units[metric.UnitID] = metric
	return nil
}

func (p *PrometheusExporter) writeMetrics(w io.Writer) {
	if p.run != nil {
		p.writeRun(w, p.run)
	}
	p.writeUnits(w)
}

func (p *PrometheusExporter) writeRun(w io.Writer, m *RunMetrics) {
	run := sanitizeLabel(m.RunID)

	fmt.Fprintf(w, "# HELP qarun_units_total Units by final status\n")
	fmt.Fprintf(w, "# TYPE qarun_units_total gauge\n")
	for _, s := range []struct {
		status model.Status
		n      int
	}{
		{model.StatusPass, m.Passed},
		{model.StatusFlaky, m.Flaky},
		{model.StatusFail, m.Failed},
		{model.StatusError, m.Errored},
		{model.StatusTimeout, m.TimedOut},
		{model.StatusSkipped, m.Skipped},
	} {
		fmt.Fprintf(w, "qarun_units_total{run=\"%s\",status=\"%s\"} %d\n", run, s.status, s.n)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP qarun_attempts_total Attempts made across all units\n")
	fmt.Fprintf(w, "# TYPE qarun_attempts_total gauge\n")
	fmt.Fprintf(w, "qarun_attempts_total{run=\"%s\"} %d\n", run, m.Attempts)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP qarun_flaky_rate Share of units that passed only after a retry\n")
	fmt.Fprintf(w, "# TYPE qarun_flaky_rate gauge\n")
	fmt.Fprintf(w, "qarun_flaky_rate{run=\"%s\"} %.4f\n", run, m.FlakyRate)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP qarun_run_duration_ms Wall-clock duration of the run in milliseconds\n")
	fmt.Fprintf(w, "# TYPE qarun_run_duration_ms gauge\n")
	fmt.Fprintf(w, "qarun_run_duration_ms{run=\"%s\"} %.2f\n", run, m.DurationMs)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP qarun_attempt_duration_ms Attempt duration in milliseconds\n")
	fmt.Fprintf(w, "# TYPE qarun_attempt_duration_ms gauge\n")
	fmt.Fprintf(w, "qarun_attempt_duration_ms{run=\"%s\",quantile=\"0.50\"} %.2f\n", run, m.P50Ms)
	fmt.Fprintf(w, "qarun_attempt_duration_ms{run=\"%s\",quantile=\"0.95\"} %.2f\n", run, m.P95Ms)
	fmt.Fprintf(w, "qarun_attempt_duration_ms{run=\"%s\",quantile=\"0.99\"} %.2f\n", run, m.P99Ms)
	fmt.Fprintf(w, "qarun_attempt_duration_ms{run=\"%s\",quantile=\"max\"} %.2f\n", run, m.MaxMs)
	fmt.Fprintln(w)

	if len(m.ByCategory) > 0 {
		cats := make([]string, 0, len(m.ByCategory))
		for c := range m.ByCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)

		fmt.Fprintf(w, "# HELP qarun_category_units_total Units by category and final status\n")
		fmt.Fprintf(w, "# TYPE qarun_category_units_total gauge\n")
		for _, c := range cats {
			counts := m.ByCategory[model.Category(c)]
			for _, s := range model.Statuses {
				if n := counts.Of(s); n > 0 {
					fmt.Fprintf(w, "qarun_category_units_total{run=\"%s\",category=\"%s\",status=\"%s\"} %d\n", run, sanitizeLabel(c), s, n)
				}
			}
		}
		fmt.Fprintln(w)
	}
}

func (p *PrometheusExporter) writeUnits(w io.Writer) {
	if len(p.units) == 0 {
		return
	}

	ids := make([]string, 0, len(p.units))
	for id := range p.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "# HELP qarun_unit_attempts Attempts made for a unit\n")
	fmt.Fprintf(w, "# TYPE qarun_unit_attempts gauge\n")
	for _, id := range ids {
		u := p.units[id]
		fmt.Fprintf(w, "qarun_unit_attempts{unit=\"%s\",category=\"%s\",status=\"%s\"} %d\n",
			sanitizeLabel(id), u.Category, u.Status, u.Attempts)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP qarun_unit_duration_ms Total attempt time of a unit in milliseconds\n")
	fmt.Fprintf(w, "# TYPE qarun_unit_duration_ms gauge\n")
	for _, id := range ids {
		fmt.Fprintf(w, "qarun_unit_duration_ms{unit=\"%s\"} %.2f\n", sanitizeLabel(id), p.units[id].DurationMs)
	}
}

// sanitizeLabel makes a string safe for use as a Prometheus label value
func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// Close shuts down the HTTP endpoint if one was started.
func (p *PrometheusExporter) Close() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}
