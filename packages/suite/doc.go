// Package suite loads test units from YAML suite files.
//
// A suite file (*.qa.yaml or *.qa.yml) sets defaults for its tests:
//
//	name: checkout
//	category: api
//	executor: api
//	tags: [smoke]
//	timeout: 30s
//	retry: {maxAttempts: 3, backoff: exponential, delay: 500ms, maxDelay: 5s}
//	tests:
//	  - name: get cart
//	    request: {method: GET, url: "{{baseUrl}}/cart"}
//	    expect:
//	      - {subject: status, value: 200}
//
// Keys of a test that the loader does not know are passed to the executor
// untouched as the unit's spec.
package suite
