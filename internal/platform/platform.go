package platform

import (
	"time"

	"github.com/skypro1111/audiologger/internal/audio"
)

// DeviceState mirrors the endpoint state bits used by the audio subsystem
type DeviceState uint32

const (
	DeviceStateActive     DeviceState = 0x1
	DeviceStateDisabled   DeviceState = 0x2
	DeviceStateNotPresent DeviceState = 0x4
	DeviceStateUnplugged  DeviceState = 0x8
	DeviceStateAll        DeviceState = 0xF
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateActive:
		return "active"
	case DeviceStateDisabled:
		return "disabled"
	case DeviceStateNotPresent:
		return "not_present"
	case DeviceStateUnplugged:
		return "unplugged"
	default:
		return "unknown"
	}
}

// DataFlow is the direction of an endpoint
type DataFlow uint32

const (
	DataFlowRender DataFlow = iota
	DataFlowCapture
)

func (d DataFlow) String() string {
	if d == DataFlowRender {
		return "render"
	}
	return "capture"
}

// ShareMode selects shared or exclusive access to an endpoint
type ShareMode uint32

const (
	ShareModeShared ShareMode = iota
	ShareModeExclusive
)

// StreamFlags are passed when initializing a stream
type StreamFlags uint32

const (
	StreamFlagLoopback          StreamFlags = 0x00020000
	StreamFlagSRCDefaultQuality StreamFlags = 0x08000000
	StreamFlagAutoConvertPCM    StreamFlags = 0x80000000

	// LoopbackFlags opens a shared render endpoint for capture, converting to
	// the requested PCM format with default-quality resampling
	LoopbackFlags = StreamFlagLoopback | StreamFlagAutoConvertPCM | StreamFlagSRCDefaultQuality
)

// BufferFlags describe a captured packet
type BufferFlags uint32

const (
	BufferFlagDataDiscontinuity BufferFlags = 0x1
	BufferFlagSilent            BufferFlags = 0x2
	BufferFlagTimestampError    BufferFlags = 0x4
)

const waveFormatPCM = 1

// Format is a wave format as negotiated with an endpoint
type Format struct {
	Tag            uint16 `json:"tag"`
	Channels       uint16 `json:"channels"`
	SampleRate     uint32 `json:"sample_rate"`
	AvgBytesPerSec uint32 `json:"avg_bytes_per_sec"`
	BlockAlign     uint16 `json:"block_align"`
	BitsPerSample  uint16 `json:"bits_per_sample"`
}

// PCM16 returns f converted to 16-bit integer PCM, keeping channel count and
// sample rate and recomputing the derived fields
func (f Format) PCM16() Format {
	f.Tag = waveFormatPCM
	f.BitsPerSample = 16
	f.BlockAlign = f.Channels * f.BitsPerSample / 8
	f.AvgBytesPerSec = uint32(f.BlockAlign) * f.SampleRate
	return f
}

// AudioFormat returns the storage layout for f
func (f Format) AudioFormat() audio.Format {
	return audio.Format{
		Channels:    int(f.Channels),
		SampleWidth: int(f.BitsPerSample / 8),
		SampleRate:  int(f.SampleRate),
	}
}

// Packet is one buffer pulled from a capture client
//
// Data is owned by the caller and stays valid after ReleaseBuffer
type Packet struct {
	Data           []byte
	Frames         uint32
	Flags          BufferFlags
	DevicePosition uint64
	Timestamp      time.Duration // on the backend clock
}

// Silent reports whether the device flagged the packet as silence
func (p Packet) Silent() bool {
	return p.Flags&BufferFlagSilent != 0
}

// Backend is an operating system audio subsystem
type Backend interface {
	// Name identifies the backend in logs
	Name() string
	// Enumerator opens the endpoint enumerator. It must be called on the thread
	// that uses the returned devices
	Enumerator() (Enumerator, error)
	// Now returns the current time on the clock used for packet timestamps
	Now() time.Duration
}

// ThreadInitializer is implemented by backends that need per-thread setup
// before an Enumerator can be used. The returned function undoes it
type ThreadInitializer interface {
	InitThread() (func(), error)
}

// Enumerator lists and opens audio endpoints
type Enumerator interface {
	Device(id string) (Device, error)
	DefaultRenderDevice() (Device, error)
	RenderDevices(state DeviceState) ([]Device, error)
	Release()
}

// Device is an audio endpoint
type Device interface {
	ID() string
	FriendlyName() (string, error)
	State() (DeviceState, error)
	DataFlow() (DataFlow, error)
	Activate() (AudioClient, error)
	Release()
}

// AudioClient controls a stream on an endpoint
type AudioClient interface {
	MixFormat() (Format, error)
	Initialize(mode ShareMode, flags StreamFlags, bufferDuration time.Duration, format Format) error
	CaptureClient() (CaptureClient, error)
	Start() error
	Stop() error
	Release()
}

// CaptureClient pulls captured packets from an initialized stream
type CaptureClient interface {
	// NextPacket returns the next available packet. A packet with zero frames
	// means no data is ready; it must still be released
	NextPacket() (Packet, error)
	ReleaseBuffer(frames uint32) error
	Release()
}
