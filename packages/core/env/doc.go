// Package env resolves {{variable}} placeholders in test unit specs.
//
// Variables come from, in increasing precedence: the selected environment in
// the config file, a .env file, and QARUN_VAR_* process variables.
// {{$NAME}} reads a process environment variable and {{uuid()}},
// {{timestamp()}} and {{now()}} evaluate built-in functions.
package env
