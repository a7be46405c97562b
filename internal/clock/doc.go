// Package clock provides the monotonic time base shared by audio capture timestamps
// and event markers, plus a manually driven clock for tests.
package clock
