// Package bugreport turns failing outcomes into de-duplicated bug tickets.
//
// Every outcome that ended in fail or error is fingerprinted by its category
// and its normalized failure message. Outcomes that share a fingerprint
// collapse into one BugReport whose Occurrences counts them, so one broken
// endpoint produces one ticket rather than fifty.
//
// Generate is pure: the same ResultSet always yields the same reports, with
// ids derived from fingerprints and CreatedAt taken from the run's finish
// time. Writer renders the reports as Markdown and JSON files.
package bugreport
