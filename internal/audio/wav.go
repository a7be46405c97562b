package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf8"
)

const (
	waveFormatPCM = 1
	wavHeaderSize = 44
	cuePointSize  = 24
)

// WAVHeader represents the header structure of a canonical PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds the header for dataSize bytes of PCM in the given format.
// ChunkSize covers only the header and data; callers appending chunks patch it
func newWAVHeader(f Format, dataSize int) WAVHeader {
	blockAlign := uint16(f.FrameSize())
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize + dataSize%2),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   waveFormatPCM,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: uint16(f.BitsPerSample()),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// CueChunk returns the RIFF "cue " chunk and the LIST/adtl chunk describing the
// retained markers, ready to be appended after the data chunk of a WAV file.
// Sample offsets are relative to the first retained frame
func (s *Storage) CueChunk() []byte {
	_, markers, first := s.snapshot()
	return encodeCueChunks(markers, first)
}

func encodeCueChunks(markers []Marker, first uint64) []byte {
	var cues, labels bytes.Buffer
	for i, m := range markers {
		id := uint32(i + 1)
		binary.Write(&cues, binary.LittleEndian, struct {
			ID           uint32
			Position     uint32
			DataChunkID  [4]byte
			ChunkStart   uint32
			BlockStart   uint32
			SampleOffset uint32
		}{
			ID:           id,
			Position:     clampUint32(m.Position),
			DataChunkID:  [4]byte{'d', 'a', 't', 'a'},
			SampleOffset: clampUint32(m.Position - first),
		})

		text := append([]byte(m.Label), 0)
		if len(text)%2 != 0 {
			text = append(text, 0)
		}
		labels.WriteString("labl")
		binary.Write(&labels, binary.LittleEndian, uint32(4+len(text)))
		binary.Write(&labels, binary.LittleEndian, id)
		labels.Write(text)
	}

	out := bytes.NewBuffer(make([]byte, 0, 12+cues.Len()+12+labels.Len()))
	out.WriteString("cue ")
	binary.Write(out, binary.LittleEndian, uint32(4+cues.Len()))
	binary.Write(out, binary.LittleEndian, uint32(len(markers)))
	out.Write(cues.Bytes())

	out.WriteString("LIST")
	binary.Write(out, binary.LittleEndian, uint32(4+labels.Len()))
	out.WriteString("adtl")
	out.Write(labels.Bytes())
	return out.Bytes()
}

// clampUint32 saturates positions past what a cue point can hold
func clampUint32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// WriteTo writes the retained audio as a WAV file followed by the cue and label
// chunks. The RIFF size is written last, once the full length is known
func (s *Storage) WriteTo(w io.WriteSeeker) (int64, error) {
	data, markers, first := s.snapshot()

	bw := bufio.NewWriter(w)
	header := newWAVHeader(s.format, len(data))
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return 0, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if _, err := bw.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write audio data: %w", err)
	}
	if len(data)%2 != 0 {
		if err := bw.WriteByte(0); err != nil {
			return 0, fmt.Errorf("failed to write data padding: %w", err)
		}
	}
	if _, err := bw.Write(encodeCueChunks(markers, first)); err != nil {
		return 0, fmt.Errorf("failed to write cue chunks: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush WAV file: %w", err)
	}

	size, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("failed to determine WAV size: %w", err)
	}
	if _, err := w.Seek(4, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek to RIFF size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(size-8)); err != nil {
		return 0, fmt.Errorf("failed to patch RIFF size: %w", err)
	}
	if _, err := w.Seek(size, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek to end of WAV: %w", err)
	}
	return size, nil
}

// SaveToFile writes the Storage to path as a WAV file with cue and label chunks
func (s *Storage) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := s.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// CuePoint is one entry of a "cue " chunk
type CuePoint struct {
	ID           uint32 `json:"id"`
	Position     uint32 `json:"position"`
	SampleOffset uint32 `json:"sample_offset"`
	Label        string `json:"label"`
}

// WAVFile is the parsed content of a WAV file written by this package
type WAVFile struct {
	Format   Format
	RIFFSize uint32
	Data     []byte
	Cues     []CuePoint
}

// Frames returns the number of complete frames in Data
func (w *WAVFile) Frames() int64 {
	if fs := w.Format.FrameSize(); fs > 0 {
		return int64(len(w.Data) / fs)
	}
	return 0
}

// ErrInvalidWAV is returned for files that are not RIFF/WAVE PCM
var ErrInvalidWAV = errors.New("invalid WAV file")

// ReadWAV parses a PCM WAV file including its cue points and labels.
// Unknown chunks are skipped
func ReadWAV(r io.Reader) (*WAVFile, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV data: %w", err)
	}
	return ParseWAV(raw)
}

// ReadWAVFile parses the WAV file at path
func ReadWAVFile(path string) (*WAVFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadWAV(f)
}

// ParseWAV parses an in-memory PCM WAV file including its cue points and labels
func ParseWAV(raw []byte) (*WAVFile, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	wav := &WAVFile{RIFFSize: binary.LittleEndian.Uint32(raw[4:8])}
	var haveFmt, haveData bool
	labels := make(map[uint32]string)

	for off := 12; off+8 <= len(raw); {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			return nil, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
		}
		chunk := raw[body : body+size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
			}
			if tag := binary.LittleEndian.Uint16(chunk[0:2]); tag != waveFormatPCM {
				return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", tag)
			}
			wav.Format = Format{
				Channels:    int(binary.LittleEndian.Uint16(chunk[2:4])),
				SampleRate:  int(binary.LittleEndian.Uint32(chunk[4:8])),
				SampleWidth: int(binary.LittleEndian.Uint16(chunk[14:16])) / 8,
			}
			haveFmt = true
		case "data":
			wav.Data = append([]byte(nil), chunk...)
			haveData = true
		case "cue ":
			cues, err := parseCueChunk(chunk)
			if err != nil {
				return nil, err
			}
			wav.Cues = cues
		case "LIST":
			if size >= 4 && string(chunk[0:4]) == "adtl" {
				parseLabels(chunk[4:], labels)
			}
		}

		off = body + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	if !haveData {
		return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}
	for i := range wav.Cues {
		wav.Cues[i].Label = labels[wav.Cues[i].ID]
	}
	return wav, nil
}

func parseCueChunk(chunk []byte) ([]CuePoint, error) {
	if len(chunk) < 4 {
		return nil, fmt.Errorf("%w: cue chunk too short", ErrInvalidWAV)
	}
	count := int(binary.LittleEndian.Uint32(chunk[0:4]))
	if 4+count*cuePointSize > len(chunk) {
		return nil, fmt.Errorf("%w: cue chunk declares %d points in %d bytes", ErrInvalidWAV, count, len(chunk))
	}
	cues := make([]CuePoint, count)
	for i := range cues {
		p := chunk[4+i*cuePointSize:]
		cues[i] = CuePoint{
			ID:           binary.LittleEndian.Uint32(p[0:4]),
			Position:     binary.LittleEndian.Uint32(p[4:8]),
			SampleOffset: binary.LittleEndian.Uint32(p[20:24]),
		}
	}
	return cues, nil
}

func parseLabels(list []byte, labels map[uint32]string) {
	for off := 0; off+12 <= len(list); {
		id := string(list[off : off+4])
		size := int(binary.LittleEndian.Uint32(list[off+4 : off+8]))
		if size < 4 || off+8+size > len(list) {
			return
		}
		if id == "labl" {
			cueID := binary.LittleEndian.Uint32(list[off+8 : off+12])
			text := list[off+12 : off+8+size]
			if i := bytes.IndexByte(text, 0); i >= 0 {
				text = text[:i]
			}
			if utf8.Valid(text) {
				labels[cueID] = string(text)
			}
		}
		off += 8 + size + size%2
	}
}
