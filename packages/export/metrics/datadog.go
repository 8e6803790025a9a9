package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// DataDogExporter exports metrics to DataDog
type DataDogExporter struct {
	apiKey   string
	site     string // e.g., "datadoghq.com", "datadoghq.eu"
	endpoint string
	tags     []string
	prefix   string
	client   *http.Client
}

// DataDogOption is a functional option for DataDogExporter
type DataDogOption func(*DataDogExporter)

// WithDataDogAPIKey sets the DataDog API key
func WithDataDogAPIKey(apiKey string) DataDogOption {
	return func(d *DataDogExporter) {
		d.apiKey = apiKey
	}
}

// WithDataDogSite sets the DataDog site (e.g., "datadoghq.com", "datadoghq.eu")
func WithDataDogSite(site string) DataDogOption {
	return func(d *DataDogExporter) {
		d.site = site
	}
}

// WithDataDogEndpoint overrides the series URL derived from the site.
func WithDataDogEndpoint(url string) DataDogOption {
	return func(d *DataDogExporter) {
		d.endpoint = url
	}
}

// WithDataDogTags sets additional tags for all metrics
func WithDataDogTags(tags []string) DataDogOption {
	return func(d *DataDogExporter) {
		d.tags = tags
	}
}

// WithDataDogPrefix sets a prefix for metric names
func WithDataDogPrefix(prefix string) DataDogOption {
	return func(d *DataDogExporter) {
		d.prefix = prefix
	}
}

// WithDataDogHTTPClient replaces the default client.
func WithDataDogHTTPClient(c *http.Client) DataDogOption {
	return func(d *DataDogExporter) {
		d.client = c
	}
}

// NewDataDogExporter falls back to DD_API_KEY when no key is given.
func NewDataDogExporter(opts ...DataDogOption) *DataDogExporter {
	d := &DataDogExporter{
		site:   "datadoghq.com",
		prefix: "qarun",
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.apiKey == "" {
		d.apiKey = os.Getenv("DD_API_KEY")
	}
	if d.endpoint == "" {
		d.endpoint = fmt.Sprintf("https://api.%s/api/v1/series", d.site)
	}
	return d
}

type datadogMetric struct {
	Metric string   `json:"metric"`
	Type   string   `json:"type"`
	Points [][]any  `json:"points"`
	Tags   []string `json:"tags,omitempty"`
}

type datadogPayload struct {
	Series []datadogMetric `json:"series"`
}

func (d *DataDogExporter) point(name, kind string, ts, value float64, tags ...string) datadogMetric {
	return datadogMetric{
		Metric: d.prefix + "." + name,
		Type:   kind,
		Points: [][]any{{ts, value}},
		Tags:   append(append([]string(nil), tags...), d.tags...),
	}
}

// Export sends the run metrics as one series batch.
func (d *DataDogExporter) Export(m *RunMetrics) error {
	if d.apiKey == "" {
		return fmt.Errorf("DataDog API key not configured")
	}

	now := float64(time.Now().Unix())
	run := "run:" + m.RunID
	series := []datadogMetric{
		d.point("units.total", "count", now, float64(m.Total), run),
		d.point("units.passed", "count", now, float64(m.Passed), run),
		d.point("units.flaky", "count", now, float64(m.Flaky), run),
		d.point("units.failed", "count", now, float64(m.Failed), run),
		d.point("units.errored", "count", now, float64(m.Errored), run),
		d.point("units.timed_out", "count", now, float64(m.TimedOut), run),
		d.point("units.skipped", "count", now, float64(m.Skipped), run),
		d.point("attempts.total", "count", now, float64(m.Attempts), run),
		d.point("flaky_rate", "gauge", now, m.FlakyRate, run),
		d.point("run.duration", "gauge", now, m.DurationMs, run),
		d.point("attempt.duration.p50", "gauge", now, m.P50Ms, run),
		d.point("attempt.duration.p95", "gauge", now, m.P95Ms, run),
		d.point("attempt.duration.p99", "gauge", now, m.P99Ms, run),
		d.point("attempt.duration.max", "gauge", now, m.MaxMs, run),
	}

	cats := make([]string, 0, len(m.ByCategory))
	for c := range m.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		counts := m.ByCategory[model.Category(c)]
		tag := "category:" + c
		series = append(series,
			d.point("category.units", "count", now, float64(counts.Total), run, tag),
			d.point("category.failed", "count", now, float64(counts.Failed+counts.Errored), run, tag),
			d.point("category.flaky", "count", now, float64(counts.Flaky), run, tag),
		)
	}

	return d.sendMetrics(series)
}

// ExportSingle sends the duration and attempt count of one unit.
func (d *DataDogExporter) ExportSingle(m *UnitMetrics) error {
	if d.apiKey == "" {
		return fmt.Errorf("DataDog API key not configured")
	}

	ts := float64(m.Timestamp.Unix())
	tags := []string{
		"run:" + m.RunID,
		"unit:" + m.UnitID,
		"category:" + string(m.Category),
		"status:" + string(m.Status),
	}
	return d.sendMetrics([]datadogMetric{
		d.point("unit.duration", "gauge", ts, m.DurationMs, tags...),
		d.point("unit.attempts", "gauge", ts, float64(m.Attempts), tags...),
	})
}

func (d *DataDogExporter) sendMetrics(series []datadogMetric) error {
	jsonData, err := json.Marshal(datadogPayload{Series: series})
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("DataDog API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (d *DataDogExporter) Close() error {
	return nil
}
