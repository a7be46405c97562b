package server

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/audiologger/internal/audio"
	"github.com/skypro1111/audiologger/internal/config"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/protocol"
	"github.com/skypro1111/audiologger/internal/stream"
)

type hostSink struct {
	host *fakeHost
	id   int
}

func (s *hostSink) Feed(data []byte) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	s.host.fed[s.id] = append(s.host.fed[s.id], append([]byte(nil), data...))
	return nil
}

func (s *hostSink) Sync() error { s.host.record("sync"); return nil }
func (s *hostSink) Stop() error { s.host.record("stop"); return nil }

type fakeHost struct {
	mu       sync.Mutex
	infos    []stream.Info
	fed      map[int][][]byte
	signals  []string
	speech   [][]event.SpeechItem
	gestures []event.Gesture
}

func newFakeHost() *fakeHost {
	return &fakeHost{fed: make(map[int][][]byte)}
}

func (h *fakeHost) record(signal string) {
	h.mu.Lock()
	h.signals = append(h.signals, signal)
	h.mu.Unlock()
}

func (h *fakeHost) Wrap(_ stream.Sink, info stream.Info) stream.Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infos = append(h.infos, info)
	return &hostSink{host: h, id: len(h.infos)}
}

func (h *fakeHost) ReportSpeech(items []event.SpeechItem) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speech = append(h.speech, items)
	return len(h.speech)
}

func (h *fakeHost) ReportGesture(g event.Gesture) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gestures = append(h.gestures, g)
	return true
}

func bridgeConfig(workers, maxStreams int) *config.BridgeConfig {
	return &config.BridgeConfig{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		UDPPort:     0,
		BufferSize:  65536,
		Workers:     workers,
		QueueSize:   100,
		MaxStreams:  maxStreams,
	}
}

func startBridge(t *testing.T, cfg *config.BridgeConfig, host Host) (*UDPServer, *net.UDPConn) {
	t.Helper()
	s, err := NewUDPServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), host, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	conn, err := net.DialUDP("udp", nil, s.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func send(t *testing.T, conn *net.UDPConn, packet []byte) {
	t.Helper()
	_, err := conn.Write(packet)
	require.NoError(t, err)
}

func waitHandled(t *testing.T, s *UDPServer, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.GetStatistics()
		return st.PacketsProcessed+st.PacketsDropped+st.ParseErrors >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeStreamLifecycle(t *testing.T) {
	host := newFakeHost()
	s, conn := startBridge(t, bridgeConfig(2, 8), host)

	send(t, conn, protocol.MustBuild(protocol.BuildOpen(7, protocol.PurposeSpeech, protocol.OpenPayload{Channels: 1, BitsPerSample: 16, SampleRate: 22050})))
	send(t, conn, protocol.MustBuild(protocol.BuildAudio(7, 1, []byte{1, 0, 2, 0})))
	send(t, conn, protocol.MustBuild(protocol.BuildAudio(7, 1, []byte{9, 9})))
	send(t, conn, protocol.MustBuild(protocol.BuildAudio(7, 2, []byte{3, 0})))
	send(t, conn, protocol.MustBuild(protocol.BuildControl(protocol.PacketTypeSync, 7)))
	send(t, conn, protocol.MustBuild(protocol.BuildControl(protocol.PacketTypeStop, 7)))
	send(t, conn, protocol.MustBuild(protocol.BuildControl(protocol.PacketTypeClose, 7)))
	send(t, conn, protocol.MustBuild(protocol.BuildAudio(7, 3, []byte{4, 0})))
	waitHandled(t, s, 8)

	host.mu.Lock()
	defer host.mu.Unlock()
	require.Len(t, host.infos, 1)
	assert.Equal(t, stream.Info{
		Purpose: stream.PurposeSpeech,
		Format:  audio.Format{Channels: 1, SampleWidth: 2, SampleRate: 22050},
	}, host.infos[0])
	assert.Equal(t, [][]byte{{1, 0, 2, 0}, {3, 0}}, host.fed[1])
	assert.Equal(t, []string{"sync", "stop"}, host.signals)

	st := s.GetStatistics()
	assert.Equal(t, uint64(6), st.PacketsProcessed)
	assert.Equal(t, uint64(2), st.PacketsDropped)
	assert.Equal(t, uint64(0), st.RemoteStreams)
}

func TestBridgeNotifications(t *testing.T) {
	host := newFakeHost()
	s, conn := startBridge(t, bridgeConfig(2, 8), host)

	send(t, conn, protocol.MustBuild(protocol.BuildSpeech(protocol.SpeechMessage{Items: []protocol.SpeechItem{{Text: "Hello"}}})))
	send(t, conn, protocol.MustBuild(protocol.BuildGesture(protocol.GestureMessage{Identifiers: []string{"kb:NVDA+t"}})))
	waitHandled(t, s, 2)

	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Equal(t, [][]event.SpeechItem{{event.Text("Hello")}}, host.speech)
	require.Len(t, host.gestures, 1)
	assert.Equal(t, "kb:NVDA+t", host.gestures[0].Identifier())
}

func TestBridgeEvictsLeastRecentStream(t *testing.T) {
	host := newFakeHost()
	s, conn := startBridge(t, bridgeConfig(1, 2), host)

	format := protocol.OpenPayload{Channels: 1, BitsPerSample: 16, SampleRate: 16000}
	for id := uint32(1); id <= 3; id++ {
		send(t, conn, protocol.MustBuild(protocol.BuildOpen(id, protocol.PurposeSpeech, format)))
	}
	send(t, conn, protocol.MustBuild(protocol.BuildAudio(1, 1, []byte{1, 0})))
	send(t, conn, protocol.MustBuild(protocol.BuildAudio(3, 1, []byte{3, 0})))
	waitHandled(t, s, 5)

	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Empty(t, host.fed[1])
	assert.Equal(t, [][]byte{{3, 0}}, host.fed[3])

	st := s.GetStatistics()
	assert.Equal(t, uint64(2), st.RemoteStreams)
	assert.Equal(t, uint64(1), st.PacketsDropped)
}

func TestBridgeCountsParseErrors(t *testing.T) {
	s, conn := startBridge(t, bridgeConfig(1, 2), newFakeHost())

	_, err := conn.Write([]byte{0x42, 0x00})
	require.NoError(t, err)
	waitHandled(t, s, 1)

	assert.Equal(t, uint64(1), s.GetStatistics().ParseErrors)
}
