// Package console exposes the rover session to a local operator.
//
// It serves a JSON API under /api/v1 with a server-sent event stream and
// can run a line-oriented REPL on a terminal. Every response uses the
// {result, data, code, message, details, correlationId} envelope.
package console
