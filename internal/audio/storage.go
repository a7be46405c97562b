package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// MisalignedLabel is the marker inserted when a write is not a whole number of frames
const MisalignedLabel = "!WAVE MISALIGNED"

// ErrNoData is returned when saving a source that never captured any audio
var ErrNoData = errors.New("no audio data")

// Format describes the PCM layout held by a Storage
type Format struct {
	Channels    int `json:"channels"`
	SampleWidth int `json:"sample_width"` // bytes per sample
	SampleRate  int `json:"sample_rate"`  // frames per second
}

// FrameSize returns the number of bytes in one frame
func (f Format) FrameSize() int {
	return f.Channels * f.SampleWidth
}

// BitsPerSample returns the sample width in bits
func (f Format) BitsPerSample() int {
	return f.SampleWidth * 8
}

// FramesFor returns how many frames fit in d
func (f Format) FramesFor(d time.Duration) int64 {
	return int64(f.SampleRate) * int64(d) / int64(time.Second)
}

// DurationOf returns the playback duration of n frames
func (f Format) DurationOf(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// Validate checks that the format can describe PCM audio
func (f Format) Validate() error {
	if f.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", f.Channels)
	}
	if f.SampleWidth < 1 || f.SampleWidth > 4 {
		return fmt.Errorf("sample width must be between 1 and 4 bytes, got %d", f.SampleWidth)
	}
	if f.SampleRate < 1 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	return nil
}

// Marker is a text label attached to a frame position of the global timeline
type Marker struct {
	Position uint64 `json:"position"`
	Label    string `json:"label"`
}

// Storage keeps the most recent frames of one audio source in a circular buffer
// together with markers describing what happened at given positions.
//
// Positions are counted in frames since the Storage was created and never reset,
// so markers stay valid while old audio is overwritten
type Storage struct {
	format    Format
	frameSize int
	maxFrames int64 // 0 means unbounded
	maxSize   int   // capacity in bytes, 0 when unbounded

	buf      []byte
	writeIdx int // oldest byte once buf is full

	framesWritten uint64
	anchor        time.Duration // clock instant at the end of written data
	anchored      bool

	markers []Marker

	mu sync.Mutex
}

// StorageStats is a snapshot of a Storage for monitoring
type StorageStats struct {
	Format         Format        `json:"format"`
	FramesWritten  uint64        `json:"frames_written"`
	RetainedFrames int64         `json:"retained_frames"`
	CapacityFrames int64         `json:"capacity_frames"`
	Retained       time.Duration `json:"retained"`
	Markers        int           `json:"markers"`
	Anchored       bool          `json:"anchored"`
}

// NewStorage creates a Storage for the given format keeping at most maxFrames frames.
// A maxFrames of zero or less keeps everything
func NewStorage(format Format, maxFrames int64) *Storage {
	s := &Storage{
		format:    format,
		frameSize: format.FrameSize(),
	}
	if maxFrames > 0 {
		s.maxFrames = maxFrames
		s.maxSize = int(maxFrames) * s.frameSize
	}
	return s
}

// NewStorageForDuration creates a Storage retaining the given duration of audio
func NewStorageForDuration(format Format, retention time.Duration) *Storage {
	return NewStorage(format, format.FramesFor(retention))
}

// Format returns the PCM layout of the stored audio
func (s *Storage) Format() Format {
	return s.format
}

// Bounded reports whether old audio is discarded once capacity is reached
func (s *Storage) Bounded() bool {
	return s.maxFrames > 0
}

// Write appends PCM data. A trailing partial frame is dropped and flagged with a
// MisalignedLabel marker. When ts is non-nil it is the clock instant of the first
// frame in data, and the end of the written data becomes the new time anchor
func (s *Storage) Write(data []byte, ts *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rem := len(data) % s.frameSize; rem != 0 {
		s.addMarkerLocked(MisalignedLabel)
		data = data[:len(data)-rem]
	}
	size := len(data)

	switch {
	case s.maxSize == 0:
		s.buf = append(s.buf, data...)

	case size >= s.maxSize:
		// Only the tail of the incoming data survives
		s.buf = append(s.buf[:0], data[size-s.maxSize:]...)
		s.writeIdx = 0

	case len(s.buf) < s.maxSize:
		space := s.maxSize - len(s.buf)
		if space >= size {
			s.buf = append(s.buf, data...)
		} else {
			remaining := size - space
			s.buf = append(s.buf, data[:space]...)
			copy(s.buf[:remaining], data[space:])
			s.writeIdx = remaining
		}

	default:
		if s.writeIdx+size <= s.maxSize {
			copy(s.buf[s.writeIdx:], data)
			s.writeIdx += size
		} else {
			space := s.maxSize - s.writeIdx
			remaining := size - space
			copy(s.buf[s.writeIdx:], data[:space])
			copy(s.buf[:remaining], data[space:])
			s.writeIdx = remaining
		}
		if s.writeIdx == s.maxSize {
			s.writeIdx = 0
		}
	}

	frames := size / s.frameSize
	s.framesWritten += uint64(frames)
	if ts != nil {
		s.anchor = *ts + s.format.DurationOf(int64(frames))
		s.anchored = true
	}
}

// WriteAt is Write with a capture timestamp
func (s *Storage) WriteAt(data []byte, ts time.Duration) {
	s.Write(data, &ts)
}

// AddMarker labels the current write position
func (s *Storage) AddMarker(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addMarkerLocked(label)
}

// AddMarkerAtTime labels the position corresponding to the clock instant ts,
// measured against the anchor set by the last timestamped write. Without an
// anchor it falls back to AddMarker
func (s *Storage) AddMarkerAtTime(ts time.Duration, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.anchored {
		s.addMarkerLocked(label)
		return
	}
	offset := floorDiv(int64(ts-s.anchor)*int64(s.format.SampleRate), int64(time.Second))
	pos := int64(s.framesWritten) + offset
	if pos < 0 {
		pos = 0
	}
	s.markers = append(s.markers, Marker{Position: uint64(pos), Label: label})
	s.pruneMarkersLocked()
}

func (s *Storage) addMarkerLocked(label string) {
	s.markers = append(s.markers, Marker{Position: s.framesWritten, Label: label})
	s.pruneMarkersLocked()
}

// PruneMarkers drops markers that point before the first retained frame
func (s *Storage) PruneMarkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneMarkersLocked()
}

func (s *Storage) pruneMarkersLocked() {
	if s.maxFrames == 0 {
		return
	}
	first := s.firstFrameLocked()
	kept := s.markers[:0]
	for _, m := range s.markers {
		if m.Position >= first {
			kept = append(kept, m)
		}
	}
	// Clear the tail so dropped labels can be collected
	for i := len(kept); i < len(s.markers); i++ {
		s.markers[i] = Marker{}
	}
	s.markers = kept
}

// firstFrameLocked returns the global position of the oldest retained frame
func (s *Storage) firstFrameLocked() uint64 {
	if s.maxFrames == 0 || s.framesWritten <= uint64(s.maxFrames) {
		return 0
	}
	return s.framesWritten - uint64(s.maxFrames)
}

// FramesWritten returns the total number of frames written since creation
func (s *Storage) FramesWritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesWritten
}

// Anchor returns the clock instant at the end of the written data, if known
func (s *Storage) Anchor() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor, s.anchored
}

// Bytes returns a copy of the retained audio in chronological order
func (s *Storage) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderedLocked()
}

func (s *Storage) orderedLocked() []byte {
	out := make([]byte, len(s.buf))
	if s.maxSize == 0 || len(s.buf) < s.maxSize {
		copy(out, s.buf)
		return out
	}
	n := copy(out, s.buf[s.writeIdx:])
	copy(out[n:], s.buf[:s.writeIdx])
	return out
}

// Markers returns a copy of the retained markers in insertion order
func (s *Storage) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneMarkersLocked()
	return append([]Marker(nil), s.markers...)
}

// Empty reports whether no frame has ever been written
func (s *Storage) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesWritten == 0
}

// Stats returns a monitoring snapshot
func (s *Storage) Stats() StorageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	retained := int64(len(s.buf) / s.frameSize)
	return StorageStats{
		Format:         s.format,
		FramesWritten:  s.framesWritten,
		RetainedFrames: retained,
		CapacityFrames: s.maxFrames,
		Retained:       s.format.DurationOf(retained),
		Markers:        len(s.markers),
		Anchored:       s.anchored,
	}
}

// snapshot captures everything needed to serialize the Storage consistently
func (s *Storage) snapshot() (data []byte, markers []Marker, first uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneMarkersLocked()
	return s.orderedLocked(), append([]Marker(nil), s.markers...), s.firstFrameLocked()
}

// floorDiv divides rounding toward negative infinity
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
