// Package wasapi implements loopback capture of the rendered system mix on
// Windows through the Core Audio (WASAPI) COM interfaces.
package wasapi
