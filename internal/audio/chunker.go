package audio

import "time"

// DefaultBlockDuration is the longest block a tracked stream records at once
const DefaultBlockDuration = 200 * time.Millisecond

// MaxBlockSize returns the largest whole-frame block, in bytes, that spans at
// most d of audio in format f. It never returns less than one frame
func MaxBlockSize(f Format, d time.Duration) int {
	frames := f.FramesFor(d)
	if frames < 1 {
		frames = 1
	}
	return int(frames) * f.FrameSize()
}

// SplitBlocks cuts data into consecutive blocks of at most size bytes and calls
// fn for each. The last block may be shorter. fn must not retain the slice
func SplitBlocks(data []byte, size int, fn func(block []byte)) {
	if size <= 0 {
		size = len(data)
	}
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		fn(data[:n])
		data = data[n:]
	}
}

// Chunker splits outgoing audio into bounded blocks for a fixed format
type Chunker struct {
	format    Format
	blockSize int
}

// NewChunker creates a Chunker emitting blocks of at most d of audio
func NewChunker(f Format, d time.Duration) *Chunker {
	if d <= 0 {
		d = DefaultBlockDuration
	}
	return &Chunker{format: f, blockSize: MaxBlockSize(f, d)}
}

// BlockSize returns the maximum block size in bytes
func (c *Chunker) BlockSize() int {
	return c.blockSize
}

// Split calls fn for every block of data and returns how many blocks were emitted
func (c *Chunker) Split(data []byte, fn func(block []byte)) int {
	blocks := 0
	SplitBlocks(data, c.blockSize, func(b []byte) {
		blocks++
		fn(b)
	})
	return blocks
}
