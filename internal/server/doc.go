// Package server implements the UDP host bridge and the HTTP control API.
// The bridge lets a host process outside Go report its output streams and
// speech/gesture notifications; the HTTP API starts and stops recordings and
// exposes monitoring endpoints.
package server
