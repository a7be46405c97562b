// Package stream records audio handed to the output subsystem.
// A Tracker decorates output sinks of one purpose, keeps a bounded recording
// per stream with sync, stop and speech markers, and evicts streams that have
// been idle longer than the retention window.
package stream
