package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/audiologger/internal/audio"
	"github.com/skypro1111/audiologger/internal/clock"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/metrics"
)

const (
	SyncLabel = "Sync"
	StopLabel = "Stop"

	saveConcurrency = 4
)

// Config contains configuration for the stream tracker
type Config struct {
	// Retention bounds each recording and is the idle time after which a stream is dropped
	Retention time.Duration
	// BlockDuration is the longest block recorded at once
	BlockDuration time.Duration
	// Purpose selects which sinks are recorded
	Purpose Purpose
	// NamePrefix is followed by a sequence number to name each stream
	NamePrefix string
}

// DefaultConfig returns the configuration used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Retention:     80 * time.Second,
		BlockDuration: audio.DefaultBlockDuration,
		Purpose:       PurposeSpeech,
		NamePrefix:    "WavePlayer",
	}
}

// entry is the recording of one tracked stream
type entry struct {
	id       uint64
	name     string
	info     Info
	storage  *audio.Storage
	created  time.Time
	mu       sync.Mutex
	lastSeen time.Duration
}

// StreamStats describes a tracked stream for monitoring
type StreamStats struct {
	Name          string        `json:"name"`
	Purpose       Purpose       `json:"purpose"`
	Format        audio.Format  `json:"format"`
	FramesWritten uint64        `json:"frames_written"`
	Markers       int           `json:"markers"`
	Idle          time.Duration `json:"idle"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Saved describes a recording written by SaveToDir
type Saved struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Frames  uint64 `json:"frames"`
	Markers int    `json:"markers"`
}

// Tracker records every stream of one purpose while enabled
type Tracker struct {
	cfg     Config
	clock   clock.Clock
	speech  *event.Bus[event.Speech]
	logger  *slog.Logger
	metrics *metrics.Metrics

	enabled atomic.Bool
	nextID  atomic.Uint64

	// stateMu serializes Enable and Disable
	stateMu     sync.Mutex
	unsubscribe func()

	mu          sync.RWMutex
	entries     map[uint64]*entry
	nameCounter int
}

// NewTracker creates a disabled tracker. Speech published on speech is marked
// in every tracked stream while the tracker is enabled
func NewTracker(cfg Config, clk clock.Clock, speech *event.Bus[event.Speech], logger *slog.Logger, m *metrics.Metrics) *Tracker {
	def := DefaultConfig()
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.Purpose == "" {
		cfg.Purpose = def.Purpose
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = def.NamePrefix
	}
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	return &Tracker{
		cfg:     cfg,
		clock:   clk,
		speech:  speech,
		logger:  logger.With(slog.String("component", "tracker")),
		metrics: m,
		entries: make(map[uint64]*entry),
	}
}

// Wrap decorates sink when info matches the tracked purpose and returns sink
// itself otherwise. The decorator forwards every call unchanged and records
// only while the tracker is enabled
func (t *Tracker) Wrap(sink Sink, info Info) Sink {
	if info.Purpose != t.cfg.Purpose {
		return sink
	}
	if err := info.Format.Validate(); err != nil {
		t.logger.Warn("Not recording stream with invalid format", slog.String("error", err.Error()))
		return sink
	}
	return &recordingSink{
		tracker: t,
		id:      t.nextID.Add(1),
		next:    sink,
		info:    info,
		chunker: audio.NewChunker(info.Format, t.cfg.BlockDuration),
	}
}

// Enable starts recording and restarts stream numbering
func (t *Tracker) Enable() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.enabled.Load() {
		return
	}
	t.mu.Lock()
	t.nameCounter = 0
	t.mu.Unlock()
	if t.speech != nil {
		t.unsubscribe = t.speech.Subscribe(t.onSpeech)
	}
	t.enabled.Store(true)
	t.logger.Debug("Stream tracking enabled", slog.String("purpose", string(t.cfg.Purpose)))
}

// Disable stops recording. Recordings are kept until Reset
func (t *Tracker) Disable() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if !t.enabled.Load() {
		return
	}
	t.enabled.Store(false)
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.logger.Debug("Stream tracking disabled")
}

// Enabled reports whether sinks are being recorded
func (t *Tracker) Enabled() bool {
	return t.enabled.Load()
}

// Len returns the number of tracked streams
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Streams returns a snapshot of every tracked stream ordered by name
func (t *Tracker) Streams() []StreamStats {
	now := t.clock.Now()
	t.mu.RLock()
	entries := t.sortedLocked()
	t.mu.RUnlock()

	out := make([]StreamStats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		idle := now - e.lastSeen
		e.mu.Unlock()
		st := e.storage.Stats()
		out = append(out, StreamStats{
			Name:          e.name,
			Purpose:       e.info.Purpose,
			Format:        e.info.Format,
			FramesWritten: st.FramesWritten,
			Markers:       st.Markers,
			Idle:          idle,
			CreatedAt:     e.created,
		})
	}
	return out
}

// Storage returns the recording of the named stream
func (t *Tracker) Storage(name string) (*audio.Storage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.name == name {
			return e.storage, true
		}
	}
	return nil, false
}

// SaveToDir writes every tracked stream to dir as "<name>.wav"
func (t *Tracker) SaveToDir(ctx context.Context, dir string) ([]Saved, error) {
	t.mu.RLock()
	entries := t.sortedLocked()
	t.mu.RUnlock()

	saved := make([]Saved, len(entries))
	errs := make([]error, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(saveConcurrency)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			path := filepath.Join(dir, e.name+".wav")
			if err := e.storage.SaveToFile(path); err != nil {
				errs[i] = fmt.Errorf("failed to save stream %s: %w", e.name, err)
				return nil
			}
			st := e.storage.Stats()
			saved[i] = Saved{Name: e.name, Path: path, Frames: st.FramesWritten, Markers: st.Markers}
			return nil
		})
	}
	g.Wait()

	out := saved[:0]
	for i := range saved {
		if errs[i] == nil {
			out = append(out, saved[i])
		}
	}
	if err := errors.Join(errs...); err != nil {
		return out, err
	}
	t.logger.Info("Recorded output streams saved",
		slog.String("dir", dir),
		slog.Int("streams", len(out)),
	)
	return out, nil
}

// Reset drops every tracked stream
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.entries = make(map[uint64]*entry)
	t.mu.Unlock()
	t.metrics.SetTrackedStreams(0)
}

func (t *Tracker) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries
}

// entryFor returns the entry of a sink, creating it on first sight
func (t *Tracker) entryFor(r *recordingSink) *entry {
	t.mu.RLock()
	e, ok := t.entries[r.id]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[r.id]; ok {
		return e
	}
	t.nameCounter++
	e = &entry{
		id:       r.id,
		name:     fmt.Sprintf("%s %d", t.cfg.NamePrefix, t.nameCounter),
		info:     r.info,
		storage:  audio.NewStorageForDuration(r.info.Format, t.cfg.Retention),
		created:  time.Now(),
		lastSeen: t.clock.Now(),
	}
	t.entries[r.id] = e
	t.metrics.RecordStreamCreated()
	t.metrics.SetTrackedStreams(len(t.entries))
	t.logger.Debug("Tracking new output stream",
		slog.String("name", e.name),
		slog.Int("channels", r.info.Format.Channels),
		slog.Int("sample_rate", r.info.Format.SampleRate),
	)
	return e
}

// lookup returns the entry of a sink without creating it
func (t *Tracker) lookup(id uint64) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// sweep drops entries idle for longer than the retention window
func (t *Tracker) sweep() {
	if t.cfg.Retention <= 0 {
		return
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		e.mu.Lock()
		idle := now - e.lastSeen
		e.mu.Unlock()
		if idle > t.cfg.Retention {
			delete(t.entries, id)
			t.metrics.RecordStreamEvicted()
			t.logger.Debug("Evicted idle output stream",
				slog.String("name", e.name),
				slog.Duration("idle", idle),
			)
		}
	}
	t.metrics.SetTrackedStreams(len(t.entries))
}

// mark adds label to the stream's recording if it is tracked
func (t *Tracker) mark(id uint64, label, source string) {
	e, ok := t.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.storage.AddMarker(label)
	e.mu.Unlock()
	t.metrics.RecordMarker(source)
}

// onSpeech marks the current position of every tracked stream
func (t *Tracker) onSpeech(ev event.Speech) {
	label := ev.Label()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		e.mu.Lock()
		e.storage.AddMarker(label)
		e.mu.Unlock()
		t.metrics.RecordMarker("stream_speech")
	}
}

// recordingSink forwards to the wrapped sink and records what it forwarded
type recordingSink struct {
	tracker *Tracker
	id      uint64
	next    Sink
	info    Info
	chunker *audio.Chunker
}

// Unwrap returns the decorated sink
func (r *recordingSink) Unwrap() Sink {
	return r.next
}

func (r *recordingSink) Feed(data []byte) error {
	t := r.tracker
	if len(data) == 0 || !t.Enabled() {
		return r.next.Feed(data)
	}

	e := t.entryFor(r)
	var feedErr error
	r.chunker.Split(data, func(block []byte) {
		if feedErr != nil {
			return
		}
		if feedErr = r.next.Feed(block); feedErr != nil {
			return
		}
		e.mu.Lock()
		e.storage.Write(block, nil)
		e.lastSeen = t.clock.Now()
		e.mu.Unlock()
		t.metrics.RecordStreamBlock(len(block))
	})

	t.sweep()
	return feedErr
}

func (r *recordingSink) Sync() error {
	if err := r.next.Sync(); err != nil {
		return err
	}
	if r.tracker.Enabled() {
		r.tracker.mark(r.id, SyncLabel, "sync")
	}
	return nil
}

func (r *recordingSink) Stop() error {
	if err := r.next.Stop(); err != nil {
		return err
	}
	if r.tracker.Enabled() {
		r.tracker.mark(r.id, StopLabel, "stop")
	}
	return nil
}
