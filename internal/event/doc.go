// Package event provides the typed publish/subscribe buses that carry host
// notifications (speech about to be spoken, input gestures about to execute)
// to the components that turn them into markers.
package event
