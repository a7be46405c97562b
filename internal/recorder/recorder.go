package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/audiologger/internal/archive"
	"github.com/skypro1111/audiologger/internal/audio"
	"github.com/skypro1111/audiologger/internal/capture"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/feedback"
	"github.com/skypro1111/audiologger/internal/metrics"
	"github.com/skypro1111/audiologger/internal/outdir"
	"github.com/skypro1111/audiologger/internal/stream"
	"github.com/skypro1111/audiologger/internal/upload"
)

const (
	// SystemAudioFile is the loopback recording inside a session directory
	SystemAudioFile = "SystemAudio.wav"
	// ManifestFile describes the saved session
	ManifestFile = "session.json"
)

var (
	// ErrNotRecording is returned by Stop when no session is active
	ErrNotRecording = errors.New("not recording")
	// ErrRecording is returned by Save while a session is active
	ErrRecording = errors.New("recording in progress")
)

// Config controls where and how sessions are saved
type Config struct {
	// OutputDir overrides the default Documents/AudioLogger root
	OutputDir string
	// Archive zips the session directory and removes it
	Archive bool
}

// Deps are the collaborators of a Recorder. Session, Player and Uploader may
// be nil
type Deps struct {
	Session  *capture.Session
	Tracker  *stream.Tracker
	Speech   *event.Bus[event.Speech]
	Gestures *event.Bus[event.Gesture]
	Player   feedback.Player
	Uploader upload.Uploader
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// FileEntry describes one recording in a saved session
type FileEntry struct {
	Name     string  `json:"name"`
	Frames   uint64  `json:"frames"`
	Markers  int     `json:"markers"`
	Duration float64 `json:"duration_seconds"`
}

// Manifest is written next to the recordings as session.json
type Manifest struct {
	SessionID   string      `json:"session_id"`
	StartedAt   time.Time   `json:"started_at"`
	StoppedAt   time.Time   `json:"stopped_at"`
	SpeechCount int         `json:"speech_count"`
	SystemAudio *FileEntry  `json:"system_audio,omitempty"`
	Streams     []FileEntry `json:"streams"`
}

// SaveResult describes a completed save
type SaveResult struct {
	Dir         string         `json:"dir,omitempty"`
	Archive     string         `json:"archive,omitempty"`
	ArchiveSize int64          `json:"archive_size,omitempty"`
	Manifest    Manifest       `json:"manifest"`
	Upload      *upload.Result `json:"upload,omitempty"`
	UploadError string         `json:"upload_error,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// Status is a monitoring snapshot
type Status struct {
	Recording   bool                 `json:"recording"`
	SessionID   string               `json:"session_id,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	SpeechCount int                  `json:"speech_count"`
	Capture     *capture.Stats       `json:"capture,omitempty"`
	Streams     []stream.StreamStats `json:"streams"`
	LastSave    *SaveResult          `json:"last_save,omitempty"`
}

// Recorder owns one recording session at a time
type Recorder struct {
	cfg      Config
	session  *capture.Session
	tracker  *stream.Tracker
	speech   *event.Bus[event.Speech]
	gestures *event.Bus[event.Gesture]
	player   feedback.Player
	uploader upload.Uploader
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// saveMu serializes Stop and Save
	saveMu sync.Mutex

	mu          sync.Mutex
	recording   bool
	sessionID   string
	startedAt   time.Time
	stoppedAt   time.Time
	speechCount int
	lastSave    *SaveResult
}

// New creates an idle recorder
func New(cfg Config, deps Deps) *Recorder {
	player := deps.Player
	if player == nil {
		player = feedback.Silent{}
	}
	return &Recorder{
		cfg:      cfg,
		session:  deps.Session,
		tracker:  deps.Tracker,
		speech:   deps.Speech,
		gestures: deps.Gestures,
		player:   player,
		uploader: deps.Uploader,
		logger:   deps.Logger.With(slog.String("component", "recorder")),
		metrics:  deps.Metrics,
		now:      time.Now,
	}
}

// ReportSpeech numbers a speech sequence and announces it to the capture
// session and the tracker. It returns the sequence number, or 0 when not
// recording
func (r *Recorder) ReportSpeech(items []event.SpeechItem) int {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return 0
	}
	r.speechCount++
	n := r.speechCount
	r.mu.Unlock()

	if r.speech != nil {
		r.speech.Publish(event.Speech{Sequence: n, Items: items})
	}
	return n
}

// ReportGesture announces an input gesture while recording
func (r *Recorder) ReportGesture(g event.Gesture) bool {
	r.mu.Lock()
	recording := r.recording
	r.mu.Unlock()
	if !recording || r.gestures == nil {
		return false
	}
	r.gestures.Publish(g)
	return true
}

// Wrap exposes the tracker decorator to the audio output path
func (r *Recorder) Wrap(sink stream.Sink, info stream.Info) stream.Sink {
	if r.tracker == nil {
		return sink
	}
	return r.tracker.Wrap(sink, info)
}

// Recording reports whether a session is active
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start begins a session. Starting an active session does nothing. The
// capture loop outlives ctx; it runs until Stop
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return nil
	}

	if r.session != nil {
		if err := r.session.Start(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("Failed to start recording", slog.String("error", err.Error()))
			return err
		}
	}
	if r.tracker != nil {
		r.tracker.Enable()
	}

	r.recording = true
	r.sessionID = uuid.NewString()
	r.startedAt = r.now()
	r.stoppedAt = time.Time{}
	r.speechCount = 0
	r.metrics.SetRecordingActive(true)

	r.logger.Info("Recording started", slog.String("session_id", r.sessionID))
	r.player.Play(feedback.StartTone)
	return nil
}

// Stop ends the active session and saves it
func (r *Recorder) Stop(ctx context.Context) (*SaveResult, error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	if r.tracker != nil {
		r.tracker.Disable()
	}
	if r.session != nil {
		if err := r.session.Stop(); err != nil && !errors.Is(err, capture.ErrNotRunning) {
			r.logger.Warn("Failed to stop capture", slog.String("error", err.Error()))
		}
	}
	r.recording = false
	r.stoppedAt = r.now()
	sessionID := r.sessionID
	r.mu.Unlock()

	r.metrics.SetRecordingActive(false)
	r.logger.Info("Recording stopped", slog.String("session_id", sessionID))
	r.player.Play(feedback.StopTone)

	return r.save(ctx)
}

// Save writes what is currently recorded while no session is active. Stop
// already saves, and every save discards the recordings it wrote
func (r *Recorder) Save(ctx context.Context) (*SaveResult, error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if r.Recording() {
		return nil, ErrRecording
	}
	return r.save(ctx)
}

func (r *Recorder) save(ctx context.Context) (*SaveResult, error) {
	start := time.Now()

	r.mu.Lock()
	manifest := Manifest{
		SessionID:   r.sessionID,
		StartedAt:   r.startedAt,
		StoppedAt:   r.stoppedAt,
		SpeechCount: r.speechCount,
		Streams:     []FileEntry{},
	}
	r.mu.Unlock()
	if manifest.StoppedAt.IsZero() {
		manifest.StoppedAt = r.now()
	}

	result, err := r.writeSession(ctx, &manifest)

	// The recordings are discarded whether or not the save succeeded
	if r.tracker != nil {
		r.tracker.Reset()
	}
	if r.session != nil {
		r.session.Reset()
	}

	if err != nil {
		r.metrics.RecordSave("error", time.Since(start).Seconds(), 0)
		r.logger.Error("Failed to save recording",
			slog.String("session_id", manifest.SessionID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result.Duration = time.Since(start)
	r.metrics.RecordSave("success", result.Duration.Seconds(), result.ArchiveSize)

	r.mu.Lock()
	r.lastSave = result
	r.mu.Unlock()
	return result, nil
}

func (r *Recorder) writeSession(ctx context.Context, manifest *Manifest) (*SaveResult, error) {
	base, err := outdir.Base(r.cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", base, err)
	}
	dir, err := outdir.SessionDir(base, manifest.StoppedAt)
	if err != nil {
		return nil, err
	}

	// Recordings are reset after every save, so the local writes must not
	// be cut short by a caller that goes away. Only the upload honors ctx
	if err := r.writeRecordings(context.WithoutCancel(ctx), dir, manifest); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	result := &SaveResult{Dir: dir, Manifest: *manifest}
	if !r.cfg.Archive {
		r.logger.Info("Recording saved", slog.String("dir", dir))
		return result, nil
	}

	zipPath := dir + ".zip"
	size, err := archive.ZipDir(dir, zipPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("Failed to remove archived directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
	result.Dir = ""
	result.Archive = zipPath
	result.ArchiveSize = size
	r.logger.Info("Recording saved",
		slog.String("archive", zipPath),
		slog.Int64("size", size),
	)

	if r.uploader != nil {
		r.upload(ctx, result)
	}
	return result, nil
}

func (r *Recorder) writeRecordings(ctx context.Context, dir string, manifest *Manifest) error {
	if r.session != nil {
		path := filepath.Join(dir, SystemAudioFile)
		err := r.session.SaveToFile(path)
		switch {
		case errors.Is(err, audio.ErrNoData):
			r.logger.Warn("No system audio was captured")
		case err != nil:
			return fmt.Errorf("failed to save system audio: %w", err)
		default:
			manifest.SystemAudio = fileEntry(SystemAudioFile, r.session.Storage())
		}
	}

	if r.tracker != nil {
		saved, err := r.tracker.SaveToDir(ctx, dir)
		if err != nil {
			return err
		}
		for _, s := range saved {
			st, _ := r.tracker.Storage(s.Name)
			manifest.Streams = append(manifest.Streams, *fileEntry(filepath.Base(s.Path), st))
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (r *Recorder) upload(ctx context.Context, result *SaveResult) {
	start := time.Now()
	res, err := r.uploader.Upload(ctx, result.Archive, upload.Metadata{
		SessionID: result.Manifest.SessionID,
		StartedAt: result.Manifest.StartedAt,
		StoppedAt: result.Manifest.StoppedAt,
	})
	if err != nil {
		r.metrics.RecordUpload("error", time.Since(start).Seconds())
		result.UploadError = err.Error()
		r.logger.Error("Failed to upload recording",
			slog.String("uploader", r.uploader.Name()),
			slog.String("archive", result.Archive),
			slog.String("error", err.Error()),
		)
		return
	}
	r.metrics.RecordUpload("success", time.Since(start).Seconds())
	result.Upload = res
	r.logger.Info("Recording uploaded",
		slog.String("uploader", r.uploader.Name()),
		slog.String("location", res.Location),
	)
}

func fileEntry(name string, st *audio.Storage) *FileEntry {
	e := &FileEntry{Name: name}
	if st == nil {
		return e
	}
	stats := st.Stats()
	e.Frames = uint64(stats.RetainedFrames)
	e.Markers = stats.Markers
	e.Duration = stats.Retained.Seconds()
	return e
}

// Status returns a monitoring snapshot
func (r *Recorder) Status() Status {
	r.mu.Lock()
	st := Status{
		Recording:   r.recording,
		SessionID:   r.sessionID,
		SpeechCount: r.speechCount,
		LastSave:    r.lastSave,
		Streams:     []stream.StreamStats{},
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		st.StartedAt = &t
	}
	r.mu.Unlock()

	if r.session != nil {
		c := r.session.Stats()
		st.Capture = &c
	}
	if r.tracker != nil {
		st.Streams = r.tracker.Streams()
	}
	return st
}
