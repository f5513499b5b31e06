// Package throttle implements the rate gate guarding outbound command channels.
//
// Each named channel owns a last-sent timestamp and a fixed minimum interval.
// An acquisition either succeeds and stamps the channel, or fails and leaves it
// untouched; denied actions are dropped by the caller, never queued.
package throttle
