// Package http is the HTTP client used by the api executor.
//
// It wraps net/http with connection pooling, redirect limits, default headers
// and a Response type that keeps the whole body in memory so checks and
// artifacts can read it more than once.
package http
