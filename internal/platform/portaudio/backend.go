//go:build cgo && !windows

package portaudio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/audiologger/internal/clock"
	"github.com/skypro1111/audiologger/internal/platform"
)

// monitorHint is how sound servers name sources that loop back an output
const monitorHint = "monitor"

// Backend captures from PortAudio monitor inputs, timestamped on a monotonic clock
type Backend struct {
	clock clock.Clock

	// mu serializes Initialize and Terminate
	mu sync.Mutex
}

// New creates the PortAudio backend
func New() (*Backend, error) {
	return &Backend{clock: clock.NewMonotonic()}, nil
}

func (b *Backend) Name() string { return "portaudio" }

func (b *Backend) Now() time.Duration { return b.clock.Now() }

// Enumerator initializes PortAudio; Release on the enumerator terminates it
func (b *Backend) Enumerator() (platform.Enumerator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &enumerator{b: b}, nil
}

type enumerator struct {
	b    *Backend
	once sync.Once
}

func (e *enumerator) Device(id string) (platform.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, deviceError("Devices", err)
	}
	if idx, err := strconv.Atoi(id); err == nil {
		for _, d := range devices {
			if d.Index == idx {
				return e.wrap(d), nil
			}
		}
	}
	for _, d := range devices {
		if d.Name == id {
			return e.wrap(d), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", platform.ErrDeviceNotFound, id)
}

// DefaultRenderDevice prefers the first monitor source and falls back to the
// default input device
func (e *enumerator) DefaultRenderDevice() (platform.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, deviceError("Devices", err)
	}
	for _, d := range devices {
		if isMonitor(d) {
			return e.wrap(d), nil
		}
	}
	d, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, deviceError("DefaultInputDevice", err)
	}
	return e.wrap(d), nil
}

func (e *enumerator) RenderDevices(state platform.DeviceState) ([]platform.Device, error) {
	if state&platform.DeviceStateActive == 0 {
		return nil, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, deviceError("Devices", err)
	}
	var out []platform.Device
	for _, d := range devices {
		if isMonitor(d) {
			out = append(out, e.wrap(d))
		}
	}
	return out, nil
}

func (e *enumerator) Release() {
	e.once.Do(func() {
		e.b.mu.Lock()
		defer e.b.mu.Unlock()
		portaudio.Terminate()
	})
}

func (e *enumerator) wrap(d *portaudio.DeviceInfo) *device {
	return &device{info: d, clock: e.b.clock}
}

func isMonitor(d *portaudio.DeviceInfo) bool {
	return d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), monitorHint)
}

type device struct {
	info  *portaudio.DeviceInfo
	clock clock.Clock
}

func (d *device) ID() string { return strconv.Itoa(d.info.Index) }

func (d *device) FriendlyName() (string, error) { return d.info.Name, nil }

func (d *device) State() (platform.DeviceState, error) {
	if d.info.MaxInputChannels == 0 {
		return platform.DeviceStateDisabled, nil
	}
	return platform.DeviceStateActive, nil
}

// DataFlow reports monitor inputs as render endpoints since they carry the output mix
func (d *device) DataFlow() (platform.DataFlow, error) {
	if isMonitor(d.info) {
		return platform.DataFlowRender, nil
	}
	return platform.DataFlowCapture, nil
}

func (d *device) Activate() (platform.AudioClient, error) {
	if d.info.MaxInputChannels == 0 {
		return nil, deviceError("Activate", errors.New("device has no input channels"))
	}
	return &audioClient{dev: d}, nil
}

func (d *device) Release() {}

type audioClient struct {
	dev    *device
	stream *portaudio.Stream
	buf    []int16
	format platform.Format
}

func (c *audioClient) MixFormat() (platform.Format, error) {
	channels := c.dev.info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	f := platform.Format{
		Tag:           0xFFFE,
		Channels:      uint16(channels),
		SampleRate:    uint32(c.dev.info.DefaultSampleRate),
		BitsPerSample: 32,
	}
	f.BlockAlign = f.Channels * f.BitsPerSample / 8
	f.AvgBytesPerSec = uint32(f.BlockAlign) * f.SampleRate
	return f, nil
}

// Initialize opens a blocking input stream holding a tenth of the requested
// buffer duration per read
func (c *audioClient) Initialize(mode platform.ShareMode, flags platform.StreamFlags, bufferDuration time.Duration, f platform.Format) error {
	if mode != platform.ShareModeShared {
		return fmt.Errorf("portaudio backend only supports shared mode")
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("portaudio backend only captures 16-bit PCM, got %d bits", f.BitsPerSample)
	}
	framesPerBuffer := int(int64(f.SampleRate) * int64(bufferDuration) / int64(time.Second) / 10)
	if framesPerBuffer < 1 {
		framesPerBuffer = 1
	}
	c.buf = make([]int16, framesPerBuffer*int(f.Channels))

	params := portaudio.LowLatencyParameters(c.dev.info, nil)
	params.Input.Channels = int(f.Channels)
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, c.buf)
	if err != nil {
		return deviceError("OpenStream", err)
	}
	c.stream = stream
	c.format = f
	return nil
}

func (c *audioClient) CaptureClient() (platform.CaptureClient, error) {
	if c.stream == nil {
		return nil, errors.New("audio client not initialized")
	}
	return &captureClient{client: c}, nil
}

func (c *audioClient) Start() error {
	if err := c.stream.Start(); err != nil {
		return deviceError("Start", err)
	}
	return nil
}

func (c *audioClient) Stop() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil {
		return deviceError("Stop", err)
	}
	return nil
}

func (c *audioClient) Release() {
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}

type captureClient struct {
	client *audioClient
	pos    uint64
}

// NextPacket reads one buffer once a full buffer is available
func (c *captureClient) NextPacket() (platform.Packet, error) {
	ac := c.client
	channels := int(ac.format.Channels)
	frames := len(ac.buf) / channels

	avail, err := ac.stream.AvailableToRead()
	if err != nil {
		return platform.Packet{}, deviceError("AvailableToRead", err)
	}
	if avail < frames {
		return platform.Packet{}, nil
	}

	flags := platform.BufferFlags(0)
	if err := ac.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return platform.Packet{}, deviceError("Read", err)
		}
		flags |= platform.BufferFlagDataDiscontinuity
	}

	data := make([]byte, len(ac.buf)*2)
	for i, v := range ac.buf {
		data[2*i] = byte(v)
		data[2*i+1] = byte(v >> 8)
	}

	// The last frame just left the device; date the first one
	latency := ac.stream.Info().InputLatency
	ts := ac.dev.clock.Now() - ac.format.AudioFormat().DurationOf(int64(frames)) - latency

	p := platform.Packet{
		Data:           data,
		Frames:         uint32(frames),
		Flags:          flags,
		DevicePosition: c.pos,
		Timestamp:      ts,
	}
	c.pos += uint64(frames)
	return p, nil
}

func (c *captureClient) ReleaseBuffer(frames uint32) error { return nil }

func (c *captureClient) Release() {}

func deviceError(op string, err error) error {
	var code uint32
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		code = uint32(int32(paErr))
	}
	return platform.NewDeviceError(op, code, err)
}
