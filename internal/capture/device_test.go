package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/audiologger/internal/platform"
	"github.com/skypro1111/audiologger/internal/platform/platformtest"
)

func TestSelectDevice(t *testing.T) {
	b := platformtest.NewBackend(nil)
	b.AddDevice("{default}", "Speakers", floatMix)
	b.AddDevice("{headset}", "Headset", floatMix)
	unplugged := b.AddDevice("{hdmi}", "HDMI", floatMix)
	unplugged.DeviceState = platform.DeviceStateUnplugged
	mic := b.AddDevice("{mic}", "Microphone", floatMix)
	mic.Flow = platform.DataFlowCapture

	enum, err := b.Enumerator()
	require.NoError(t, err)
	defer enum.Release()

	tests := []struct {
		name   string
		id     string
		device string
		want   string
	}{
		{"by id", "{headset}", "", "{headset}"},
		{"default key skips id", DefaultDeviceKey, "", "{default}"},
		{"empty id uses default", "", "", "{default}"},
		{"inactive id falls back to name", "{hdmi}", "Headset", "{headset}"},
		{"capture endpoint rejected", "{mic}", "", "{default}"},
		{"unknown id falls back to name", "{gone}", "Headset", "{headset}"},
		{"unknown name falls back to default", "{gone}", "Nope", "{default}"},
		{"name of inactive device ignored", "", "HDMI", "{default}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := SelectDevice(enum, tt.id, tt.device, testLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, dev.ID())
		})
	}
}

func TestSelectDeviceNoDefault(t *testing.T) {
	b := platformtest.NewBackend(nil)
	enum, err := b.Enumerator()
	require.NoError(t, err)

	_, err = SelectDevice(enum, "", "", testLogger())
	assert.ErrorIs(t, err, platform.ErrDeviceNotFound)
}
