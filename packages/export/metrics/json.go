package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// JSONExporter exports metrics to JSON format
type JSONExporter struct {
	mu        sync.Mutex
	writer    io.Writer
	filePath  string
	pretty    bool
	units     []*UnitMetrics
	startTime time.Time
	version   string
}

// JSONOption is a functional option for JSONExporter
type JSONOption func(*JSONExporter)

// WithJSONWriter sets the output writer for JSON metrics
func WithJSONWriter(w io.Writer) JSONOption {
	return func(j *JSONExporter) {
		j.writer = w
	}
}

// WithJSONFile sets the output file for JSON metrics
func WithJSONFile(path string) JSONOption {
	return func(j *JSONExporter) {
		j.filePath = path
	}
}

// WithJSONPretty enables pretty-printed JSON output
func WithJSONPretty(pretty bool) JSONOption {
	return func(j *JSONExporter) {
		j.pretty = pretty
	}
}

// WithJSONVersion records the qarun version in the metadata.
func WithJSONVersion(v string) JSONOption {
	return func(j *JSONExporter) {
		j.version = v
	}
}

func NewJSONExporter(opts ...JSONOption) *JSONExporter {
	j := &JSONExporter{
		startTime: time.Now(),
		pretty:    true,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// JSONMetricsOutput is the complete JSON output structure
type JSONMetricsOutput struct {
	Metadata JSONMetadata   `json:"metadata"`
	Summary  *RunMetrics    `json:"summary"`
	Units    []*UnitMetrics `json:"units"`
}

// JSONMetadata contains metadata about the metrics collection
type JSONMetadata struct {
	GeneratedAt string `json:"generated_at"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Duration    string `json:"duration"`
	Version     string `json:"version,omitempty"`
}

// Export writes the run metrics together with every unit recorded so far.
func (j *JSONExporter) Export(metrics *RunMetrics) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	endTime := time.Now()
	output := JSONMetricsOutput{
		Metadata: JSONMetadata{
			GeneratedAt: endTime.Format(time.RFC3339),
			StartTime:   j.startTime.Format(time.RFC3339),
			EndTime:     endTime.Format(time.RFC3339),
			Duration:    endTime.Sub(j.startTime).String(),
			Version:     j.version,
		},
		Summary: metrics,
		Units:   j.units,
	}
	if output.Units == nil {
		output.Units = []*UnitMetrics{}
	}

	var data []byte
	var err error
	if j.pretty {
		data, err = json.MarshalIndent(output, "", "  ")
	} else {
		data, err = json.Marshal(output)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if j.filePath != "" {
		if err := os.WriteFile(j.filePath, data, 0644); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}

	if j.writer != nil {
		if _, err := j.writer.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	// The next run in watch mode starts a fresh unit list.
	j.units = nil
	j.startTime = endTime
	return nil
}

// ExportSingle records a unit metric
func (j *JSONExporter) ExportSingle(metric *UnitMetrics) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.units = append(j.units, metric)
	return nil
}

func (j *JSONExporter) Close() error {
	return nil
}
