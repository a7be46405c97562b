package main

import (
	"errors"
	"fmt"

	"github.com/skypro1111/audiologger/internal/platform"
	"github.com/skypro1111/audiologger/internal/platform/portaudio"
	"github.com/skypro1111/audiologger/internal/platform/wasapi"
)

// newBackend returns the named capture backend. "auto" prefers WASAPI and
// falls back to PortAudio monitor sources
func newBackend(name string) (platform.Backend, error) {
	switch name {
	case "wasapi":
		return wasapiBackend()
	case "portaudio":
		return portaudioBackend()
	case "auto", "":
		b, err := wasapiBackend()
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, platform.ErrUnsupported) {
			return nil, err
		}
		return portaudioBackend()
	default:
		return nil, fmt.Errorf("unknown capture backend: %s", name)
	}
}

func wasapiBackend() (platform.Backend, error) {
	b, err := wasapi.New()
	if err != nil {
		return nil, fmt.Errorf("wasapi: %w", err)
	}
	return b, nil
}

func portaudioBackend() (platform.Backend, error) {
	b, err := portaudio.New()
	if err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	return b, nil
}
