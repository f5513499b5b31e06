// Package remote is the HTTP client for the rover controller.
//
// Every operation posts a small JSON body and returns the decoded reply.
// Failures are normalised to two codes so callers can classify them with
// errors.Is:
//
//   - ErrTransportFailure: the request never completed (dial, reset, timeout)
//   - ErrRemoteRejected: the rover answered with a non-2xx status
//
// The *Error wrapper keeps the operation, HTTP status and the rover's
// human-readable detail so it can be shown to the operator verbatim.
package remote
