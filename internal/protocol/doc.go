// Package protocol implements the binary host bridge protocol.
// Every packet carries an 8-byte header followed by a type-specific payload:
// stream lifecycle (open, sync, stop, close), PCM audio, and msgpack-encoded
// speech and gesture notifications.
package protocol
