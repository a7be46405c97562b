package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/audiologger/internal/audio"
	"github.com/skypro1111/audiologger/internal/clock"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/platform"
	"github.com/skypro1111/audiologger/internal/platform/platformtest"
)

var floatMix = platform.Format{
	Tag:            0xFFFE,
	Channels:       2,
	SampleRate:     48000,
	AvgBytesPerSec: 384000,
	BlockAlign:     8,
	BitsPerSample:  32,
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	return cfg
}

func packet(frames int, ts time.Duration) platformtest.Step {
	return platformtest.Step{Packet: platform.Packet{
		Data:      make([]byte, frames*4),
		Frames:    uint32(frames),
		Timestamp: ts,
	}}
}

func waitPolled(t *testing.T, b *platformtest.Backend) {
	t.Helper()
	select {
	case <-b.Polled():
	case <-time.After(2 * time.Second):
		t.Fatal("capture loop did not drain the packet queue")
	}
}

func drainPolled(b *platformtest.Backend) {
	select {
	case <-b.Polled():
	default:
	}
}

type fixture struct {
	clock    *clock.Manual
	backend  *platformtest.Backend
	speech   *event.Bus[event.Speech]
	gestures *event.Bus[event.Gesture]
	session  *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(0)
	b := platformtest.NewBackend(clk)
	b.AddDevice("{speakers}", "Speakers", floatMix)
	f := &fixture{
		clock:    clk,
		backend:  b,
		speech:   event.NewBus[event.Speech](),
		gestures: event.NewBus[event.Gesture](),
	}
	f.session = NewSession(testConfig(), b, f.speech, f.gestures, testLogger(), nil)
	return f
}

func TestSessionCapturesPCM16(t *testing.T) {
	f := newFixture(t)
	f.backend.Queue(packet(480, time.Second), packet(480, time.Second+10*time.Millisecond))

	require.NoError(t, f.session.Start(context.Background()))
	waitPolled(t, f.backend)
	require.NoError(t, f.session.Stop())

	st := f.session.Storage()
	require.NotNil(t, st)
	assert.Equal(t, audio.Format{Channels: 2, SampleWidth: 2, SampleRate: 48000}, st.Format())
	assert.Equal(t, uint64(960), st.FramesWritten())

	anchor, ok := st.Anchor()
	require.True(t, ok)
	assert.Equal(t, 1020*time.Millisecond, anchor)

	require.Len(t, f.backend.Initialized(), 1)
	assert.Equal(t, floatMix.PCM16(), f.backend.Initialized()[0])
	assert.Equal(t, []platform.StreamFlags{platform.LoopbackFlags}, f.backend.Flags())
	assert.Equal(t, []uint32{480, 480}, f.backend.Released()[:2])
	assert.Equal(t, 1, f.backend.ThreadInits())

	started, stopped := f.backend.Started()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
	assert.Equal(t, "stopped", f.session.Stats().State)
}

func TestSessionReopensAfterDeviceFault(t *testing.T) {
	f := newFixture(t)
	f.backend.Queue(
		packet(480, time.Second),
		platformtest.Step{Err: platform.NewDeviceError("GetBuffer", 0x88890004, errors.New("device invalidated"))},
		packet(240, 2*time.Second),
	)

	require.NoError(t, f.session.Start(context.Background()))
	first := f.session.Storage()
	waitPolled(t, f.backend)
	require.NoError(t, f.session.Stop())

	assert.Same(t, first, f.session.Storage())
	assert.Equal(t, uint64(720), first.FramesWritten())
	assert.Equal(t, 2, f.backend.Opens())

	formats := f.backend.Initialized()
	require.Len(t, formats, 2)
	assert.Equal(t, formats[0], formats[1])

	stats := f.session.Stats()
	assert.Equal(t, 1, stats.Reopens)
	assert.Empty(t, stats.LastError)
}

func TestSessionStopsOnUnrecoverableError(t *testing.T) {
	f := newFixture(t)
	stopped := make(chan struct{})
	f.backend.Queue(
		packet(480, time.Second),
		platformtest.Step{Err: errors.New("out of memory")},
		platformtest.Step{Before: func() { close(stopped) }},
	)

	require.NoError(t, f.session.Start(context.Background()))
	require.Eventually(t, func() bool { return !f.session.Running() }, 2*time.Second, time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("capture loop kept polling after an unrecoverable error")
	default:
	}

	stats := f.session.Stats()
	assert.Equal(t, "failed", stats.State)
	assert.Contains(t, stats.LastError, "out of memory")
	assert.Equal(t, 1, f.backend.Opens())

	// Captured audio stays saveable
	path := filepath.Join(t.TempDir(), "SystemAudio.wav")
	require.NoError(t, f.session.SaveToFile(path))
	parsed, err := audio.ReadWAVFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(480), parsed.Frames())

	assert.NoError(t, f.session.Stop())
}

func TestSessionFailsWhenReopenFails(t *testing.T) {
	f := newFixture(t)
	dev := f.backend.AddDevice("{other}", "Other", floatMix)
	f.backend.SetDefault(dev.Id)
	f.backend.Queue(
		packet(480, time.Second),
		platformtest.Step{
			Err:    platform.NewDeviceError("GetBuffer", 0x88890004, nil),
			Before: func() { dev.ActivateErr = errors.New("activation failed") },
		},
	)

	require.NoError(t, f.session.Start(context.Background()))
	require.Eventually(t, func() bool { return !f.session.Running() }, 2*time.Second, time.Millisecond)

	assert.Equal(t, "failed", f.session.Stats().State)
	assert.Equal(t, uint64(480), f.session.Storage().FramesWritten())
	assert.NoError(t, f.session.Stop())
}

func TestSessionMarkers(t *testing.T) {
	f := newFixture(t)
	f.backend.Queue(packet(480, time.Second))

	require.NoError(t, f.session.Start(context.Background()))
	waitPolled(t, f.backend)

	// Anchor is 1.01s at frame 480
	f.clock.Set(1020 * time.Millisecond)
	f.speech.Publish(event.Speech{Sequence: 1, Items: []event.SpeechItem{event.Text("hello"), {Command: "break"}, event.Text(" world")}})
	f.clock.Set(1005 * time.Millisecond)
	f.gestures.Publish(event.Gesture{Identifiers: []string{"kb(desktop):NVDA+t", "kb:NVDA+t"}})
	f.gestures.Publish(event.Gesture{Identifiers: []string{"kb:shift"}, IsModifier: true})

	require.NoError(t, f.session.Stop())

	assert.Equal(t, []audio.Marker{
		{Position: 960, Label: "#1: hello world"},
		{Position: 240, Label: "kb(desktop):NVDA+t"},
	}, f.session.Storage().Markers())

	// Stopped sessions no longer listen
	assert.Equal(t, 0, f.speech.Len())
	assert.Equal(t, 0, f.gestures.Len())
}

func TestSessionSilentPacket(t *testing.T) {
	f := newFixture(t)
	f.backend.Queue(platformtest.Step{Packet: platform.Packet{
		Frames:    100,
		Flags:     platform.BufferFlagSilent,
		Timestamp: time.Second,
	}})

	require.NoError(t, f.session.Start(context.Background()))
	waitPolled(t, f.backend)
	require.NoError(t, f.session.Stop())

	data := f.session.Storage().Bytes()
	assert.Len(t, data, 400)
	assert.Equal(t, make([]byte, 400), data)
}

func TestSessionLifecycleErrors(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.session.Stop(), ErrNotRunning)
	assert.ErrorIs(t, f.session.SaveToFile(filepath.Join(t.TempDir(), "x.wav")), audio.ErrNoData)

	require.NoError(t, f.session.Start(context.Background()))
	assert.ErrorIs(t, f.session.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, f.session.Stop())
	assert.ErrorIs(t, f.session.Stop(), ErrNotRunning)

	f.session.Reset()
	assert.Nil(t, f.session.Storage())
	assert.Equal(t, "idle", f.session.Stats().State)
}

func TestSessionStartFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.SetEnumeratorError(errors.New("no audio service"))

	err := f.session.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio service")
	assert.False(t, f.session.Running())
	assert.ErrorIs(t, f.session.Stop(), ErrNotRunning)
	assert.Equal(t, 0, f.speech.Len())
}

func TestSessionRestartKeepsStorageUntilReset(t *testing.T) {
	f := newFixture(t)
	f.backend.Queue(packet(100, time.Second))
	require.NoError(t, f.session.Start(context.Background()))
	waitPolled(t, f.backend)
	require.NoError(t, f.session.Stop())
	first := f.session.Storage()

	drainPolled(f.backend)
	f.backend.Queue(packet(100, 2*time.Second))
	require.NoError(t, f.session.Start(context.Background()))
	waitPolled(t, f.backend)
	require.NoError(t, f.session.Stop())

	assert.Same(t, first, f.session.Storage())
	assert.Equal(t, uint64(200), first.FramesWritten())
}
