// Package telemetry is the observable surface of the rover console.
//
// Components publish state changes to a Hub. Presentation layers either
// Listen in-process (the REPL) or Subscribe over Server-Sent Events (the
// console's /api/v1/telemetry). Every event gets a monotonic ID and the
// most recent events are buffered so an SSE client reconnecting with
// Last-Event-ID receives what it missed.
//
// Event types:
//   - ready: first event on every SSE stream, carries the state snapshot
//   - camera, speech, demo: session state changes
//   - transcript: latest speech recognition text
//   - commandSent, commandFailed: dispatcher completions
//   - fault: user-visible failure notice
//   - heartbeat: keepalive while SSE clients are connected
package telemetry
