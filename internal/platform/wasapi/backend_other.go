//go:build !windows

package wasapi

import "github.com/skypro1111/audiologger/internal/platform"

// Backend is unavailable outside Windows
type Backend struct {
	platform.Backend
}

// New always fails outside Windows
func New() (*Backend, error) {
	return nil, platform.ErrUnsupported
}
