package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mono8 = Format{Channels: 1, SampleWidth: 1, SampleRate: 8000}

func frames(vals ...byte) []byte {
	return vals
}

func TestStorageWriteWithinCapacity(t *testing.T) {
	s := NewStorage(mono8, 4)
	s.Write(frames(1, 2), nil)
	s.Write(frames(3), nil)

	assert.Equal(t, []byte{1, 2, 3}, s.Bytes())
	assert.Equal(t, uint64(3), s.FramesWritten())
}

func TestStorageWraparound(t *testing.T) {
	tests := []struct {
		name   string
		writes [][]byte
		want   []byte
	}{
		{
			name:   "fill exactly",
			writes: [][]byte{{1, 2, 3, 4}},
			want:   []byte{1, 2, 3, 4},
		},
		{
			name:   "overflow while filling",
			writes: [][]byte{{1, 2, 3}, {4, 5, 6}},
			want:   []byte{3, 4, 5, 6},
		},
		{
			name:   "wrap after full",
			writes: [][]byte{{1, 2, 3, 4}, {5}, {6, 7}},
			want:   []byte{4, 5, 6, 7},
		},
		{
			name:   "wrap across end",
			writes: [][]byte{{1, 2, 3, 4}, {5, 6, 7}, {8, 9}},
			want:   []byte{6, 7, 8, 9},
		},
		{
			name:   "write larger than capacity",
			writes: [][]byte{{1}, {2, 3, 4, 5, 6, 7}},
			want:   []byte{4, 5, 6, 7},
		},
		{
			name:   "cursor lands on end",
			writes: [][]byte{{1, 2, 3, 4}, {5, 6}, {7, 8}, {9}},
			want:   []byte{6, 7, 8, 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStorage(mono8, 4)
			var total uint64
			for _, w := range tt.writes {
				s.Write(w, nil)
				total += uint64(len(w))
			}
			assert.Equal(t, tt.want, s.Bytes())
			assert.Equal(t, total, s.FramesWritten())
		})
	}
}

func TestStorageWraparoundMultiByteFrames(t *testing.T) {
	stereo16 := Format{Channels: 2, SampleWidth: 2, SampleRate: 48000}
	s := NewStorage(stereo16, 3)

	frame := func(v byte) []byte { return []byte{v, v, v, v} }
	for v := byte(1); v <= 5; v++ {
		s.Write(frame(v), nil)
	}

	want := append(append(frame(3), frame(4)...), frame(5)...)
	assert.Equal(t, want, s.Bytes())
	assert.Equal(t, uint64(5), s.FramesWritten())
}

func TestStorageMisalignedWrite(t *testing.T) {
	stereo16 := Format{Channels: 2, SampleWidth: 2, SampleRate: 48000}
	s := NewStorage(stereo16, 100)
	s.Write(make([]byte, 8), nil)
	s.Write(make([]byte, 6), nil)

	assert.Equal(t, uint64(3), s.FramesWritten())
	assert.Len(t, s.Bytes(), 12)
	assert.Equal(t, []Marker{{Position: 2, Label: MisalignedLabel}}, s.Markers())
}

func TestStorageUnbounded(t *testing.T) {
	s := NewStorage(mono8, 0)
	assert.False(t, s.Bounded())

	for i := 0; i < 100; i++ {
		s.Write([]byte{byte(i)}, nil)
		s.AddMarker("m")
	}
	assert.Len(t, s.Bytes(), 100)
	assert.Len(t, s.Markers(), 100)
	assert.Equal(t, uint64(1), s.Markers()[0].Position)
}

func TestStorageMarkerPruning(t *testing.T) {
	s := NewStorage(mono8, 4)
	s.AddMarker("start")
	s.Write(frames(1, 2), nil)
	s.AddMarker("two")
	s.Write(frames(3, 4), nil)
	s.AddMarker("four")

	require.Len(t, s.Markers(), 3)

	s.Write(frames(5, 6, 7), nil)

	assert.Equal(t, []Marker{{Position: 4, Label: "four"}}, s.Markers())
}

func TestStorageAddMarkerAtTime(t *testing.T) {
	f := Format{Channels: 1, SampleWidth: 2, SampleRate: 48000}
	s := NewStorage(f, 0)

	// 4800 frames captured at t=1s, so the anchor is t=1.1s at position 4800
	s.WriteAt(make([]byte, 4800*2), time.Second)
	anchor, ok := s.Anchor()
	require.True(t, ok)
	assert.Equal(t, 1100*time.Millisecond, anchor)

	s.AddMarkerAtTime(1110*time.Millisecond, "after")
	s.AddMarkerAtTime(1090*time.Millisecond, "before")
	s.AddMarkerAtTime(1100*time.Millisecond-time.Nanosecond, "just before")

	assert.Equal(t, []Marker{
		{Position: 5280, Label: "after"},
		{Position: 4320, Label: "before"},
		{Position: 4799, Label: "just before"},
	}, s.Markers())
}

func TestStorageAddMarkerAtTimeClampsToZero(t *testing.T) {
	s := NewStorage(mono8, 0)
	s.WriteAt([]byte{1, 2}, 10*time.Second)
	s.AddMarkerAtTime(0, "long ago")

	assert.Equal(t, []Marker{{Position: 0, Label: "long ago"}}, s.Markers())
}

func TestStorageAddMarkerAtTimeWithoutAnchor(t *testing.T) {
	s := NewStorage(mono8, 0)
	s.Write([]byte{1, 2, 3}, nil)
	s.AddMarkerAtTime(time.Hour, "untimed")

	assert.Equal(t, []Marker{{Position: 3, Label: "untimed"}}, s.Markers())
}

func TestStorageUntimedWriteKeepsAnchor(t *testing.T) {
	s := NewStorage(mono8, 0)
	s.WriteAt([]byte{1}, time.Second)
	s.Write([]byte{2, 3}, nil)

	anchor, ok := s.Anchor()
	require.True(t, ok)
	assert.Equal(t, time.Second+125*time.Microsecond, anchor)
}

func TestStorageStats(t *testing.T) {
	s := NewStorageForDuration(mono8, time.Second)
	s.Write(make([]byte, 10000), nil)
	s.AddMarker("x")

	stats := s.Stats()
	assert.Equal(t, uint64(10000), stats.FramesWritten)
	assert.Equal(t, int64(8000), stats.RetainedFrames)
	assert.Equal(t, int64(8000), stats.CapacityFrames)
	assert.Equal(t, time.Second, stats.Retained)
	assert.Equal(t, 1, stats.Markers)
	assert.False(t, stats.Anchored)
}

func TestFormatValidate(t *testing.T) {
	assert.NoError(t, Format{Channels: 2, SampleWidth: 2, SampleRate: 44100}.Validate())
	assert.Error(t, Format{Channels: 0, SampleWidth: 2, SampleRate: 44100}.Validate())
	assert.Error(t, Format{Channels: 1, SampleWidth: 8, SampleRate: 44100}.Validate())
	assert.Error(t, Format{Channels: 1, SampleWidth: 2}.Validate())
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(5, 2))
	assert.Equal(t, int64(-3), floorDiv(-5, 2))
	assert.Equal(t, int64(-2), floorDiv(-4, 2))
	assert.Equal(t, int64(0), floorDiv(0, 7))
}
