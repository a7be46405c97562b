package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/skypro1111/audiologger/internal/platform"
)

// DefaultDeviceKey selects the default render endpoint instead of a specific id
const DefaultDeviceKey = "default"

// SelectDevice resolves the endpoint to record. The first match wins:
//  1. the endpoint with id, if it is active and renders audio
//  2. an active render endpoint whose friendly name is name
//  3. the default render endpoint
//
// Failures in the first two steps fall through to the next one
func SelectDevice(enum platform.Enumerator, id, name string, logger *slog.Logger) (platform.Device, error) {
	if id != "" && id != DefaultDeviceKey {
		dev, err := deviceByID(enum, id)
		if err == nil {
			return dev, nil
		}
		logger.Debug("Configured device unavailable, trying by name",
			slog.String("device_id", id),
			slog.String("error", err.Error()),
		)
	}

	if name != "" {
		dev, err := deviceByName(enum, name)
		if err == nil {
			return dev, nil
		}
		logger.Debug("Named device unavailable, using default",
			slog.String("device_name", name),
			slog.String("error", err.Error()),
		)
	}

	dev, err := enum.DefaultRenderDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get default render device: %w", err)
	}
	return dev, nil
}

func deviceByID(enum platform.Enumerator, id string) (platform.Device, error) {
	dev, err := enum.Device(id)
	if err != nil {
		return nil, err
	}
	state, err := dev.State()
	if err == nil && state != platform.DeviceStateActive {
		err = fmt.Errorf("device is %s", state)
	}
	if err == nil {
		var flow platform.DataFlow
		flow, err = dev.DataFlow()
		if err == nil && flow != platform.DataFlowRender {
			err = fmt.Errorf("device is a %s endpoint", flow)
		}
	}
	if err != nil {
		dev.Release()
		return nil, err
	}
	return dev, nil
}

func deviceByName(enum platform.Enumerator, name string) (platform.Device, error) {
	devices, err := enum.RenderDevices(platform.DeviceStateActive)
	if err != nil {
		return nil, err
	}
	var found platform.Device
	for _, d := range devices {
		if found == nil {
			if n, err := d.FriendlyName(); err == nil && n == name {
				found = d
				continue
			}
		}
		d.Release()
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no active render device named %q", platform.ErrDeviceNotFound, name)
	}
	return found, nil
}

// stream is an opened loopback capture stream
type stream struct {
	device  platform.Device
	client  platform.AudioClient
	capture platform.CaptureClient
	format  platform.Format
	started bool
}

// openStream selects the device and initializes a shared loopback stream.
// When format is nil the mix format is queried and converted to 16-bit PCM;
// otherwise the given format is reused so storage geometry never changes
func openStream(enum platform.Enumerator, cfg Config, format *platform.Format, logger *slog.Logger) (*stream, error) {
	dev, err := SelectDevice(enum, cfg.DeviceID, cfg.DeviceName, logger)
	if err != nil {
		return nil, err
	}
	s := &stream{device: dev}

	s.client, err = dev.Activate()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to activate audio client: %w", err)
	}

	if format != nil {
		s.format = *format
	} else {
		mix, err := s.client.MixFormat()
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to get mix format: %w", err)
		}
		s.format = mix.PCM16()
	}

	if err := s.client.Initialize(platform.ShareModeShared, platform.LoopbackFlags, cfg.BufferDuration, s.format); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize loopback stream: %w", err)
	}

	s.capture, err = s.client.CaptureClient()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to get capture client: %w", err)
	}

	if err := s.client.Start(); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to start loopback stream: %w", err)
	}
	s.started = true

	name, _ := dev.FriendlyName()
	logger.Info("Opened loopback stream",
		slog.String("device_id", dev.ID()),
		slog.String("device_name", name),
		slog.Int("channels", int(s.format.Channels)),
		slog.Int("sample_rate", int(s.format.SampleRate)),
	)
	return s, nil
}

// close stops and releases everything the stream holds
func (s *stream) close() error {
	var errs []error
	if s.started {
		if err := s.client.Stop(); err != nil {
			errs = append(errs, err)
		}
		s.started = false
	}
	if s.capture != nil {
		s.capture.Release()
		s.capture = nil
	}
	if s.client != nil {
		s.client.Release()
		s.client = nil
	}
	if s.device != nil {
		s.device.Release()
		s.device = nil
	}
	return errors.Join(errs...)
}
