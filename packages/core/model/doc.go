// Package model defines the data shared by every stage of a qarun run.
//
// It provides:
//   - TestUnit: an immutable, schedulable test descriptor
//   - Attempt: a single execution of a TestUnit
//   - Outcome: the retry-resolved result of a TestUnit
//   - RetryPolicy and Backoff: how failing attempts are re-tried
//
// Types in this package carry no behaviour beyond classification; scheduling,
// retrying and reporting live in their own packages.
package model
