// Package feedback plays the tones that confirm recording start and stop.
package feedback

import (
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"
)

// Tone is a single beep
type Tone struct {
	Frequency float64
	Duration  time.Duration
}

var (
	// StartTone plays when recording starts
	StartTone = Tone{Frequency: 750, Duration: 100 * time.Millisecond}
	// StopTone plays when recording stops
	StopTone = Tone{Frequency: 500, Duration: 100 * time.Millisecond}
)

// Player plays tones
type Player interface {
	Play(Tone)
}

// Beeper plays tones on the system speaker. Failures are logged and ignored
type Beeper struct {
	logger *slog.Logger
	beep   func(freq float64, durationMs int) error
}

// NewBeeper creates a system speaker player
func NewBeeper(logger *slog.Logger) *Beeper {
	return &Beeper{logger: logger, beep: beeep.Beep}
}

// Play beeps once. It blocks for about the tone duration on most platforms
func (b *Beeper) Play(t Tone) {
	if err := b.beep(t.Frequency, int(t.Duration/time.Millisecond)); err != nil {
		b.logger.Debug("Failed to play tone",
			slog.Float64("frequency", t.Frequency),
			slog.String("error", err.Error()),
		)
	}
}

// Silent discards every tone
type Silent struct{}

func (Silent) Play(Tone) {}

// New returns a Beeper when enabled and Silent otherwise
func New(enabled bool, logger *slog.Logger) Player {
	if !enabled {
		return Silent{}
	}
	return NewBeeper(logger)
}
