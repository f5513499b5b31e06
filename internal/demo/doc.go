// Package demo starts and stops the rover's scripted movement sequences.
//
// The rover runs the sequence and is the only authority on whether one is
// running; the controller tracks what it last asked for so the console
// can show it, and always sends stop when asked.
package demo
