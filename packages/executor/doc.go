// Package executor defines the capability the orchestration core uses to run
// a single attempt of a test unit, plus the two executors qarun ships with:
//
//   - api: performs an HTTP request and checks status, JSON fields and schema
//   - command: runs an external driver (for example a browser script) and
//     reads its step trace from the output
//
// Executors that hold exclusive resources are never shared between workers:
// each worker opens its own Session from the Registry.
package executor
