// Package rovermock emulates the rover controller for development and
// tests.
//
// It serves the controller's HTTP surface (motion, speed, free text,
// camera, MJPEG feed, demos, health) and its /asr speech channel. Commands
// are recorded rather than driven to motors. Faults can be injected to
// exercise the client's error paths: a failing camera start, rejection
// of every request, or dropping connections as if the rover were offline.
package rovermock
