// Package scheduler runs test units on a bounded pool of workers.
//
// Units are handed out in submission order. Each worker owns its executor
// session and runs one unit at a time, retries included, before taking the
// next. A single collector goroutine merges outcomes into the aggregator, so
// no result is written from two places.
//
// When the context is cancelled no further unit starts; units already running
// finish their current attempt and units that never started are recorded as
// skipped.
package scheduler
