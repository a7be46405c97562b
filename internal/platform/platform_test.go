package platform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skypro1111/audiologger/internal/audio"
)

func TestFormatPCM16(t *testing.T) {
	mix := Format{
		Tag:            0xFFFE,
		Channels:       2,
		SampleRate:     48000,
		AvgBytesPerSec: 384000,
		BlockAlign:     8,
		BitsPerSample:  32,
	}

	got := mix.PCM16()

	assert.Equal(t, Format{
		Tag:            1,
		Channels:       2,
		SampleRate:     48000,
		AvgBytesPerSec: 192000,
		BlockAlign:     4,
		BitsPerSample:  16,
	}, got)
	assert.Equal(t, audio.Format{Channels: 2, SampleWidth: 2, SampleRate: 48000}, got.AudioFormat())
}

func TestIsDeviceFault(t *testing.T) {
	fault := NewDeviceError("GetBuffer", 0x88890004, errors.New("device invalidated"))

	assert.True(t, IsDeviceFault(fault))
	assert.True(t, IsDeviceFault(fmt.Errorf("capture: %w", fault)))
	assert.False(t, IsDeviceFault(errors.New("boom")))
	assert.False(t, IsDeviceFault(nil))
	assert.Contains(t, fault.Error(), "0x88890004")
}

func TestPacketSilent(t *testing.T) {
	assert.True(t, Packet{Flags: BufferFlagSilent | BufferFlagDataDiscontinuity}.Silent())
	assert.False(t, Packet{Flags: BufferFlagDataDiscontinuity}.Silent())
}
