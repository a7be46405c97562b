//go:build !cgo || windows

package portaudio

import "github.com/skypro1111/audiologger/internal/platform"

// Backend is unavailable without cgo
type Backend struct {
	platform.Backend
}

// New always fails without cgo
func New() (*Backend, error) {
	return nil, platform.ErrUnsupported
}
