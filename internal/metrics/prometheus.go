package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the audio logger.
// A nil *Metrics is valid and records nothing
type Metrics struct {
	// System capture metrics
	CaptureFrames   prometheus.Counter
	CapturePackets  *prometheus.CounterVec
	CaptureReopens  prometheus.Counter
	CaptureFailures prometheus.Counter
	CaptureRunning  prometheus.Gauge

	// Marker metrics
	Markers *prometheus.CounterVec

	// Stream tracker metrics
	TrackedStreams   prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsEvicted   prometheus.Counter
	StreamBlocks     prometheus.Counter
	StreamBytes      prometheus.Counter
	StreamBlockBytes prometheus.Histogram

	// Recording metrics
	RecordingActive prometheus.Gauge
	Saves           *prometheus.CounterVec
	SaveDuration    prometheus.Histogram
	SavedBytes      prometheus.Counter
	Uploads         *prometheus.CounterVec
	UploadDuration  prometheus.Histogram

	// Host bridge metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed *prometheus.CounterVec
	ParseErrors      prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	QueueSize        prometheus.Gauge
	RemoteStreams    prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// System capture metrics
		CaptureFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_capture_frames_total",
			Help: "Total number of frames captured from the system mix",
		}),
		CapturePackets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_capture_packets_total",
			Help: "Total number of capture polls by result",
		}, []string{"result"}),
		CaptureReopens: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_capture_reopens_total",
			Help: "Total number of device reopens after an interruption",
		}),
		CaptureFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_capture_failures_total",
			Help: "Total number of capture loops stopped by an unrecoverable error",
		}),
		CaptureRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiologger_capture_running",
			Help: "Whether the system capture loop is running",
		}),

		Markers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_markers_total",
			Help: "Total number of markers added by source",
		}, []string{"source"}),

		// Stream tracker metrics
		TrackedStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiologger_tracked_streams",
			Help: "Current number of tracked output streams",
		}),
		StreamsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_streams_created_total",
			Help: "Total number of tracked streams created",
		}),
		StreamsEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_streams_evicted_total",
			Help: "Total number of tracked streams evicted after being idle",
		}),
		StreamBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_stream_blocks_total",
			Help: "Total number of blocks recorded from output streams",
		}),
		StreamBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_stream_bytes_total",
			Help: "Total number of bytes recorded from output streams",
		}),
		StreamBlockBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiologger_stream_block_size_bytes",
			Help:    "Size of blocks recorded from output streams",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10), // 256B to ~128KB
		}),

		// Recording metrics
		RecordingActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiologger_recording_active",
			Help: "Whether a recording session is active",
		}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_saves_total",
			Help: "Total number of recording saves by result",
		}, []string{"result"}),
		SaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiologger_save_duration_seconds",
			Help:    "Time spent saving a recording",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		SavedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_saved_bytes_total",
			Help: "Total number of bytes written to saved recordings",
		}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_uploads_total",
			Help: "Total number of archive uploads by result",
		}, []string{"result"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiologger_upload_duration_seconds",
			Help:    "Duration of archive uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),

		// Host bridge metrics
		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_bridge_packets_received_total",
			Help: "Total number of UDP packets received from the host bridge",
		}),
		PacketsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_bridge_packets_processed_total",
			Help: "Total number of bridge packets processed by type",
		}, []string{"type"}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "audiologger_bridge_parse_errors_total",
			Help: "Total number of bridge packet parsing errors",
		}),
		PacketsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_bridge_packets_dropped_total",
			Help: "Total number of bridge packets dropped by reason",
		}, []string{"reason"}),
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiologger_bridge_queue_size",
			Help: "Current number of packets in the bridge processing queues",
		}),
		RemoteStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiologger_bridge_remote_streams",
			Help: "Current number of streams opened over the host bridge",
		}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiologger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiologger_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCapturePacket records one capture poll. Result is "data", "silent" or "empty"
func (m *Metrics) RecordCapturePacket(result string, frames int) {
	if m == nil {
		return
	}
	m.CapturePackets.WithLabelValues(result).Inc()
	m.CaptureFrames.Add(float64(frames))
}

// RecordCaptureReopen increments the device reopen counter
func (m *Metrics) RecordCaptureReopen() {
	if m == nil {
		return
	}
	m.CaptureReopens.Inc()
}

// RecordCaptureFailure increments the unrecoverable failure counter
func (m *Metrics) RecordCaptureFailure() {
	if m == nil {
		return
	}
	m.CaptureFailures.Inc()
}

// SetCaptureRunning sets the capture loop state
func (m *Metrics) SetCaptureRunning(running bool) {
	if m == nil {
		return
	}
	m.CaptureRunning.Set(boolToFloat(running))
}

// RecordMarker increments the marker counter for source
func (m *Metrics) RecordMarker(source string) {
	if m == nil {
		return
	}
	m.Markers.WithLabelValues(source).Inc()
}

// SetTrackedStreams sets the current number of tracked streams
func (m *Metrics) SetTrackedStreams(count int) {
	if m == nil {
		return
	}
	m.TrackedStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	if m == nil {
		return
	}
	m.StreamsCreated.Inc()
}

// RecordStreamEvicted increments the streams evicted counter
func (m *Metrics) RecordStreamEvicted() {
	if m == nil {
		return
	}
	m.StreamsEvicted.Inc()
}

// RecordStreamBlock records one block appended to a tracked stream
func (m *Metrics) RecordStreamBlock(sizeBytes int) {
	if m == nil {
		return
	}
	m.StreamBlocks.Inc()
	m.StreamBytes.Add(float64(sizeBytes))
	m.StreamBlockBytes.Observe(float64(sizeBytes))
}

// SetRecordingActive sets the recording session state
func (m *Metrics) SetRecordingActive(active bool) {
	if m == nil {
		return
	}
	m.RecordingActive.Set(boolToFloat(active))
}

// RecordSave records a finished save. Result is "success" or "failure"
func (m *Metrics) RecordSave(result string, durationSeconds float64, sizeBytes int64) {
	if m == nil {
		return
	}
	m.Saves.WithLabelValues(result).Inc()
	m.SaveDuration.Observe(durationSeconds)
	m.SavedBytes.Add(float64(sizeBytes))
}

// RecordUpload records a finished archive upload
func (m *Metrics) RecordUpload(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter for a packet type
func (m *Metrics) RecordPacketProcessed(packetType string) {
	if m == nil {
		return
	}
	m.PacketsProcessed.WithLabelValues(packetType).Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordPacketDropped increments the dropped packets counter for reason
func (m *Metrics) RecordPacketDropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// SetRemoteStreams sets the number of streams opened over the bridge
func (m *Metrics) SetRemoteStreams(count int) {
	if m == nil {
		return
	}
	m.RemoteStreams.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
