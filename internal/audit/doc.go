// Package audit records every outbound rover operation as one JSON line.
//
// Records carry the operator, the target path, parameters, outcome,
// normalised code, latency and the correlation ID of the console request
// that triggered the operation. The file is rotated by size and age.
package audit
