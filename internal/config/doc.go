// Package config implements the configuration store for the rover operator console.
//
// Configuration is layered: Baseline() defaults, then an optional YAML file,
// then ROVER_* environment overrides, then Validate().
//
// References:
//   - Remote contract: base URL, optional request timeout
//   - Rate gate: motion and speed channel intervals
//   - Event hub: buffer size and heartbeat cadence
package config
