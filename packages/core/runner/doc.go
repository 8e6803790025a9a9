// Package runner drives a single test unit through its attempts.
//
// Execute runs attempt 1, and keeps retrying while the last attempt failed,
// errored or timed out and the unit's attempt budget allows it. Between
// attempts it waits for the unit's backoff delay, giving up early if the run
// is cancelled. Each attempt is bounded by the unit timeout, and blobs the
// executor captured are moved to the artifact store.
//
// The result is an immutable model.Outcome classified as pass, flaky, fail,
// error or timeout.
package runner
