package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/skypro1111/audiologger/internal/audio"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/metrics"
	"github.com/skypro1111/audiologger/internal/platform"
)

var (
	// ErrAlreadyRunning is returned by Start on a running session
	ErrAlreadyRunning = errors.New("capture session already running")
	// ErrNotRunning is returned by Stop on a session that was not started
	ErrNotRunning = errors.New("capture session not running")
)

// Config contains configuration for a capture session
type Config struct {
	// DeviceID is the endpoint to record; empty or DefaultDeviceKey skips the lookup
	DeviceID string
	// DeviceName is the friendly name tried when DeviceID does not resolve
	DeviceName string
	// Retention is how much audio is kept; zero keeps everything
	Retention time.Duration
	// BufferDuration is the device buffer requested when opening the stream
	BufferDuration time.Duration
	// PollInterval is how long the loop idles when no data is ready
	PollInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is configured
func DefaultConfig() Config {
	return Config{
		DeviceID:       DefaultDeviceKey,
		Retention:      60 * time.Second,
		BufferDuration: time.Second,
		PollInterval:   200 * time.Millisecond,
	}
}

// State describes the capture loop
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of a session for monitoring
type Stats struct {
	State     string              `json:"state"`
	Backend   string              `json:"backend"`
	Format    *platform.Format    `json:"format,omitempty"`
	Reopens   int                 `json:"reopens"`
	LastError string              `json:"last_error,omitempty"`
	StartedAt time.Time           `json:"started_at,omitempty"`
	Storage   *audio.StorageStats `json:"storage,omitempty"`
}

// Session records the system output mix on a dedicated thread
type Session struct {
	cfg      Config
	backend  platform.Backend
	speech   *event.Bus[event.Speech]
	gestures *event.Bus[event.Gesture]
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	state     State
	storage   *audio.Storage
	format    *platform.Format
	reopens   int
	lastErr   error
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSession creates a capture session. The buses may be nil when no markers
// are wanted; m may be nil
func NewSession(cfg Config, backend platform.Backend, speech *event.Bus[event.Speech], gestures *event.Bus[event.Gesture], logger *slog.Logger, m *metrics.Metrics) *Session {
	def := DefaultConfig()
	if cfg.BufferDuration <= 0 {
		cfg.BufferDuration = def.BufferDuration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	return &Session{
		cfg:      cfg,
		backend:  backend,
		speech:   speech,
		gestures: gestures,
		logger:   logger.With(slog.String("component", "capture")),
		metrics:  m,
	}
}

// Start opens the device and spawns the capture loop. It returns once the
// stream is running or the first open has failed
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	ready := make(chan error, 1)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	s.lastErr = nil
	s.startedAt = time.Now()
	done := s.done
	s.mu.Unlock()

	go s.run(loopCtx, ready, done)

	if err := <-ready; err != nil {
		cancel()
		<-done
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	s.logger.Info("System audio capture started",
		slog.String("backend", s.backend.Name()),
		slog.Duration("retention", s.cfg.Retention),
	)
	return nil
}

// Stop signals the capture loop and waits for it to finish. No audio is
// written to the storage after Stop returns
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopped
	}
	s.mu.Unlock()

	s.logger.Info("System audio capture stopped")
	return nil
}

// Running reports whether the capture loop is active
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// Storage returns the recording, or nil if no device was ever opened
func (s *Session) Storage() *audio.Storage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage
}

// SaveToFile writes the recording to path. It returns audio.ErrNoData if the
// device was never opened
func (s *Session) SaveToFile(path string) error {
	st := s.Storage()
	if st == nil {
		return audio.ErrNoData
	}
	if err := st.SaveToFile(path); err != nil {
		return err
	}
	s.logger.Info("Recorded system audio saved", slog.String("path", path))
	return nil
}

// Reset discards the recording so the next Start sizes a new storage
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return
	}
	s.storage = nil
	s.format = nil
	s.reopens = 0
	s.state = StateIdle
}

// Stats returns a monitoring snapshot
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{
		State:     s.state.String(),
		Backend:   s.backend.Name(),
		Reopens:   s.reopens,
		StartedAt: s.startedAt,
	}
	if s.format != nil {
		f := *s.format
		stats.Format = &f
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	if s.storage != nil {
		st := s.storage.Stats()
		stats.Storage = &st
	}
	return stats
}

// run is the capture loop. It owns an OS thread for the backend's lifetime
func (s *Session) run(ctx context.Context, ready chan<- error, done chan struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.metrics.SetCaptureRunning(true)
	defer s.metrics.SetCaptureRunning(false)

	if ti, ok := s.backend.(platform.ThreadInitializer); ok {
		undo, err := ti.InitThread()
		if err != nil {
			s.fail(err)
			ready <- err
			return
		}
		defer undo()
	}

	if s.speech != nil {
		defer s.speech.Subscribe(s.onSpeech)()
	}
	if s.gestures != nil {
		defer s.gestures.Subscribe(s.onGesture)()
	}

	enum, err := s.backend.Enumerator()
	if err != nil {
		err = fmt.Errorf("failed to open device enumerator: %w", err)
		s.fail(err)
		ready <- err
		return
	}
	defer enum.Release()

	st, err := s.open(enum)
	if err != nil {
		s.fail(err)
		ready <- err
		return
	}
	ready <- nil
	defer func() {
		if err := st.close(); err != nil {
			s.logger.Warn("Error closing loopback stream", slog.String("error", err.Error()))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idle, err := s.poll(st)
		if err == nil {
			if idle {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.cfg.PollInterval):
				}
			}
			continue
		}

		if !platform.IsDeviceFault(err) {
			s.logger.Error("Recording stopped due to unrecoverable error", slog.String("error", err.Error()))
			s.fail(err)
			return
		}

		// The endpoint may have changed; open it again
		fault := err
		st.close()
		st, err = s.open(enum)
		if err != nil {
			s.logger.Error("Recording stopped due to unrecoverable error", slog.String("error", err.Error()))
			s.fail(err)
			st = &stream{}
			return
		}
		s.mu.Lock()
		s.reopens++
		s.mu.Unlock()
		s.metrics.RecordCaptureReopen()
		s.logger.Info("Recording resumed after interruption", slog.String("error", fault.Error()))
	}
}

// open opens the loopback stream, creating the storage on the first call
func (s *Session) open(enum platform.Enumerator) (*stream, error) {
	s.mu.Lock()
	format := s.format
	s.mu.Unlock()

	st, err := openStream(enum, s.cfg, format, s.logger)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storage == nil {
		f := st.format
		s.format = &f
		s.storage = audio.NewStorageForDuration(f.AudioFormat(), s.cfg.Retention)
	}
	return st, nil
}

// poll handles one packet and reports whether no data was ready
func (s *Session) poll(st *stream) (idle bool, err error) {
	pkt, err := st.capture.NextPacket()
	if err != nil {
		return false, err
	}
	if pkt.Frames == 0 {
		s.metrics.RecordCapturePacket("empty", 0)
		return true, st.capture.ReleaseBuffer(0)
	}

	s.write(st, pkt)
	return false, st.capture.ReleaseBuffer(pkt.Frames)
}

func (s *Session) write(st *stream, pkt platform.Packet) {
	s.mu.Lock()
	storage := s.storage
	s.mu.Unlock()

	size := int(pkt.Frames) * int(st.format.BlockAlign)
	data := pkt.Data
	result := "data"
	if pkt.Silent() || len(data) < size {
		data = make([]byte, size)
		result = "silent"
	}

	if pkt.Flags&platform.BufferFlagTimestampError != 0 {
		storage.Write(data[:size], nil)
	} else {
		storage.WriteAt(data[:size], pkt.Timestamp)
	}
	s.metrics.RecordCapturePacket(result, int(pkt.Frames))
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()
	s.metrics.RecordCaptureFailure()
}

func (s *Session) onSpeech(ev event.Speech) {
	if storage := s.Storage(); storage != nil {
		storage.AddMarkerAtTime(s.backend.Now(), ev.Label())
		s.metrics.RecordMarker("speech")
	}
}

func (s *Session) onGesture(ev event.Gesture) {
	if ev.IsModifier {
		return
	}
	if storage := s.Storage(); storage != nil {
		storage.AddMarkerAtTime(s.backend.Now(), ev.Identifier())
		s.metrics.RecordMarker("gesture")
	}
}
