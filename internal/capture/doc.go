// Package capture records the rendered system audio mix into a bounded
// audio.Storage. A Session selects the output endpoint, opens a loopback
// stream and polls it on a dedicated OS thread, annotating the recording with
// speech and gesture markers stamped on the backend clock.
package capture
