// Package config handles YAML configuration loading and validation.
// It covers system audio capture, output stream tracking, the output folder,
// the UDP host bridge, the HTTP API, archive upload, tones and logging.
package config
