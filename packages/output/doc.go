// Package output renders a finished run.
//
// Supported formats:
//   - console: human-readable colored terminal output
//   - json: machine-readable JSON
//   - junit: JUnit XML for CI integration
//   - tap: Test Anything Protocol
//   - html: a standalone HTML report
//
// Every format implements Exporter. The console exporter can also print
// outcomes as they arrive through Progress.
package output
