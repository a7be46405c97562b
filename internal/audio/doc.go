// Package audio holds recorded PCM audio in memory and serializes it to disk.
// It implements the circular sample buffer with its time-correlated marker timeline,
// WAV encoding with RIFF cue/label chunks, WAV parsing for inspection, and splitting
// of outgoing audio into bounded blocks.
package audio
