// Package aggregate merges unit outcomes into a ResultSet.
//
// The Aggregator is owned by a single collector goroutine during a run; the
// ResultSet it produces is read-only and every run-wide number (counts, flaky
// rate, percentiles) is derived from it on demand.
package aggregate
