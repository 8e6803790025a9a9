// Package assertions evaluates api unit checks against an HTTP response.
//
// A check names a subject (status, duration, header X, body, body.path) and
// an operator:
//
//	- {subject: status, op: equals, value: 200}
//	- {subject: header Content-Type, op: contains, value: json}
//	- {subject: body.data.id, op: exists}
//	- {subject: body, op: schema, value: ./user.schema.json}
//
// Body paths use gjson syntax; bracket indexes (items[0].id) are accepted.
package assertions
