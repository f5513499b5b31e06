// Package speech manages the duplex speech-recognition channel.
//
// The session dials the rover's /asr WebSocket, shows each inbound text
// frame as the current transcript and tracks the channel through
// Disconnected, Connecting, Connected, Closing and Faulted. A fault is
// terminal until the operator connects again; a close, from either side,
// returns the session to Disconnected with a fresh handle on the next
// Connect.
package speech
