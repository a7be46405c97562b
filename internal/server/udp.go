package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skypro1111/audiologger/internal/config"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/metrics"
	"github.com/skypro1111/audiologger/internal/protocol"
	"github.com/skypro1111/audiologger/internal/stream"
)

// Host receives what the bridge decodes. *recorder.Recorder implements it
type Host interface {
	Wrap(sink stream.Sink, info stream.Info) stream.Sink
	ReportSpeech(items []event.SpeechItem) int
	ReportGesture(g event.Gesture) bool
}

// UDPServer bridges a host's output streams and notifications over UDP
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.BridgeConfig
	logger  *slog.Logger
	host    Host
	metrics *metrics.Metrics
	streams *lru.Cache[uint32, *remoteStream]

	ctx       context.Context
	cancel    context.CancelFunc
	receiveWG sync.WaitGroup
	workerWG  sync.WaitGroup

	// queues[i] feeds worker i; a stream always maps to the same worker
	queues []chan *incomingPacket

	mu               sync.RWMutex
	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	packetsDropped   uint64
}

// remoteStream is an output stream announced by the host. It is only touched
// by the worker its id maps to
type remoteStream struct {
	id      uint32
	info    stream.Info
	sink    stream.Sink
	lastSeq uint32
	seen    bool
	opened  time.Time
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a bridge that reports to host
func NewUDPServer(cfg *config.BridgeConfig, logger *slog.Logger, host Host, m *metrics.Metrics) (*UDPServer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &UDPServer{
		config:  cfg,
		logger:  logger.With(slog.String("component", "bridge")),
		host:    host,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	streams, err := lru.NewWithEvict(cfg.MaxStreams, s.onEvict)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream table: %w", err)
	}
	s.streams = streams

	perWorker := cfg.QueueSize / cfg.Workers
	if perWorker < 1 {
		perWorker = 1
	}
	s.queues = make([]chan *incomingPacket, cfg.Workers)
	for i := range s.queues {
		s.queues[i] = make(chan *incomingPacket, perWorker)
	}
	return s, nil
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP bridge started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("workers", len(s.queues)),
		slog.Int("max_streams", s.config.MaxStreams),
	)

	for i := range s.queues {
		s.workerWG.Add(1)
		go s.packetProcessor(i)
	}

	s.receiveWG.Add(1)
	go s.receiveLoop()

	return nil
}

// LocalAddr returns the bound address, or nil before Start
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the bridge. Queued packets are processed first
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP bridge...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop is the only sender, so the queues can be closed once it returns
	s.receiveWG.Wait()
	for _, q := range s.queues {
		close(q)
	}
	s.workerWG.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP bridge stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receiveWG.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		// Copy out of the reused buffer
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		queue := s.queues[s.shard(packetData)]
		select {
		case queue <- packet:
			s.metrics.SetQueueSize(s.queueLen())
		default:
			s.drop("queue_full")
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// shard maps a packet to a worker by stream id so a stream stays ordered.
// Packets too short to carry an id go to worker 0 and fail parsing there
func (s *UDPServer) shard(data []byte) int {
	header, err := protocol.ParseHeader(data)
	if err != nil {
		return 0
	}
	return int(header.StreamID % uint32(len(s.queues)))
}

// packetProcessor processes packets from one queue
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.workerWG.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.queues[workerID] {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	h := parsed.Header
	switch h.PacketType {
	case protocol.PacketTypeOpen:
		s.processOpen(h, parsed.Open)
	case protocol.PacketTypeAudio:
		if !s.processAudio(h, parsed.Audio) {
			return
		}
	case protocol.PacketTypeSync, protocol.PacketTypeStop:
		if !s.processControl(h) {
			return
		}
	case protocol.PacketTypeClose:
		if s.streams.Remove(h.StreamID) {
			s.logger.Debug("Remote stream closed", slog.Uint64("stream_id", uint64(h.StreamID)))
		}
		s.metrics.SetRemoteStreams(s.streams.Len())
	case protocol.PacketTypeSpeech:
		s.host.ReportSpeech(parsed.Speech.SpeechItems())
	case protocol.PacketTypeGesture:
		s.host.ReportGesture(parsed.Gesture.Event())
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed(h.TypeName())
}

// processOpen registers a stream, replacing any earlier one with the same id
func (s *UDPServer) processOpen(h *protocol.Header, payload *protocol.OpenPayload) {
	info := stream.Info{
		Purpose: stream.Purpose(protocol.PurposeName(h.Purpose)),
		Format:  payload.Format(),
	}
	rs := &remoteStream{
		id:     h.StreamID,
		info:   info,
		sink:   s.host.Wrap(stream.Discard{}, info),
		opened: time.Now(),
	}
	s.streams.Add(h.StreamID, rs)
	s.metrics.SetRemoteStreams(s.streams.Len())

	s.logger.Debug("Remote stream opened",
		slog.Uint64("stream_id", uint64(h.StreamID)),
		slog.String("purpose", string(info.Purpose)),
		slog.Int("channels", info.Format.Channels),
		slog.Int("sample_rate", info.Format.SampleRate),
	)
}

// processAudio feeds audio to the stream's sink, dropping duplicates and
// packets that arrive after a later sequence
func (s *UDPServer) processAudio(h *protocol.Header, payload *protocol.AudioPayload) bool {
	rs, ok := s.streams.Get(h.StreamID)
	if !ok {
		s.drop("unknown_stream")
		s.logger.Warn("Received audio packet for unknown stream",
			slog.Uint64("stream_id", uint64(h.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
		)
		return false
	}

	if rs.seen && payload.Sequence <= rs.lastSeq {
		s.drop("out_of_order")
		s.logger.Debug("Dropping duplicate or late audio packet",
			slog.Uint64("stream_id", uint64(h.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Uint64("last_sequence", uint64(rs.lastSeq)),
		)
		return false
	}
	rs.seen = true
	rs.lastSeq = payload.Sequence

	if err := rs.sink.Feed(payload.AudioData); err != nil {
		s.logger.Error("Failed to feed remote stream",
			slog.Uint64("stream_id", uint64(h.StreamID)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *UDPServer) processControl(h *protocol.Header) bool {
	rs, ok := s.streams.Get(h.StreamID)
	if !ok {
		s.drop("unknown_stream")
		return false
	}

	var err error
	if h.PacketType == protocol.PacketTypeSync {
		err = rs.sink.Sync()
	} else {
		err = rs.sink.Stop()
	}
	if err != nil {
		s.logger.Error("Failed to signal remote stream",
			slog.Uint64("stream_id", uint64(h.StreamID)),
			slog.String("signal", h.TypeName()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *UDPServer) onEvict(id uint32, rs *remoteStream) {
	s.logger.Debug("Remote stream evicted",
		slog.Uint64("stream_id", uint64(id)),
		slog.Duration("age", time.Since(rs.opened)),
	)
}

func (s *UDPServer) drop(reason string) {
	s.mu.Lock()
	s.packetsDropped++
	s.mu.Unlock()
	s.metrics.RecordPacketDropped(reason)
}

func (s *UDPServer) queueLen() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// GetStatistics returns current bridge statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	stats := ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		PacketsDropped:   s.packetsDropped,
	}
	s.mu.RUnlock()

	stats.RemoteStreams = uint64(s.streams.Len())
	stats.QueueSize = uint64(s.queueLen())
	stats.QueueCapacity = uint64(len(s.queues) * cap(s.queues[0]))
	return stats
}

// ServerStatistics represents bridge performance counters
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	RemoteStreams    uint64 `json:"remote_streams"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
