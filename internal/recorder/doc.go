// Package recorder runs recording sessions: it numbers speech, starts and
// stops the loopback capture and the stream tracker together, and writes the
// result to a timestamped directory that is optionally archived and uploaded.
package recorder
