// Package platform defines the capture interfaces implemented by the operating
// system audio backends: endpoint enumeration, client activation, format
// negotiation and packet-based loopback capture. It also classifies backend
// errors into recoverable device faults and everything else.
package platform
