package stream

import "github.com/skypro1111/audiologger/internal/audio"

// Purpose is the playback category of an output stream
type Purpose string

const (
	PurposeSpeech Purpose = "speech"
	PurposeSounds Purpose = "sounds"
)

// Sink is an audio output primitive
type Sink interface {
	// Feed queues PCM data for playback
	Feed(data []byte) error
	// Sync blocks until queued audio has played
	Sync() error
	// Stop discards queued audio
	Stop() error
}

// Info describes the stream behind a Sink
type Info struct {
	Purpose Purpose      `json:"purpose"`
	Format  audio.Format `json:"format"`
}

// Discard is a Sink that drops everything
type Discard struct{}

func (Discard) Feed([]byte) error { return nil }
func (Discard) Sync() error       { return nil }
func (Discard) Stop() error       { return nil }

// SinkFunc adapts a feed function to a Sink with no-op Sync and Stop
type SinkFunc func(data []byte) error

func (f SinkFunc) Feed(data []byte) error { return f(data) }
func (f SinkFunc) Sync() error            { return nil }
func (f SinkFunc) Stop() error            { return nil }
