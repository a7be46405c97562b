package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/skypro1111/audiologger/internal/config"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/metrics"
	"github.com/skypro1111/audiologger/internal/recorder"
)

// maxEventBody bounds JSON request bodies
const maxEventBody = 1 << 20

// HTTPServer provides the control API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	recorder *recorder.Recorder
	bridge   *UDPServer
	metrics  *metrics.Metrics
	proc     *process.Process

	startTime time.Time
}

// NewHTTPServer creates the API server. bridge may be nil when the UDP bridge
// is disabled; gatherer serves /metrics
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	rec *recorder.Recorder, bridge *UDPServer, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    appConfig,
		recorder:  rec,
		bridge:    bridge,
		metrics:   m,
		startTime: time.Now(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = p
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // stop includes the save and upload
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", http.MethodGet, h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", http.MethodGet, h.handleStatus))
	mux.HandleFunc("/streams", h.withMetrics("/streams", http.MethodGet, h.handleStreams))
	mux.HandleFunc("/config", h.withMetrics("/config", http.MethodGet, h.handleConfig))

	mux.HandleFunc("/recording/start", h.withMetrics("/recording/start", http.MethodPost, h.handleStart))
	mux.HandleFunc("/recording/stop", h.withMetrics("/recording/stop", http.MethodPost, h.handleStop))
	mux.HandleFunc("/events/speech", h.withMetrics("/events/speech", http.MethodPost, h.handleSpeech))
	mux.HandleFunc("/events/gesture", h.withMetrics("/events/gesture", http.MethodPost, h.handleGesture))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", http.MethodGet, h.handleRoot))
}

// withMetrics wraps an HTTP handler with method checking and metrics collection
func (h *HTTPServer) withMetrics(endpoint, method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		if r.Method != method {
			http.Error(ww, "Method not allowed", http.StatusMethodNotAllowed)
		} else {
			handler(ww, r)
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	proc := map[string]any{
		"pid":        os.Getpid(),
		"goroutines": runtime.NumGoroutine(),
	}
	if h.proc != nil {
		if mem, err := h.proc.MemoryInfoWithContext(r.Context()); err == nil {
			proc["rss_bytes"] = mem.RSS
		}
	}

	components := map[string]any{
		"recorder": map[string]any{
			"status":    "running",
			"recording": h.recorder.Recording(),
		},
	}
	if h.bridge != nil {
		stats := h.bridge.GetStatistics()
		components["bridge"] = map[string]any{
			"status":           "running",
			"packets_received": stats.PacketsReceived,
			"parse_errors":     stats.ParseErrors,
			"remote_streams":   stats.RemoteStreams,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"process":    proc,
		"components": components,
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"timestamp": time.Now().UTC(),
		"recorder":  h.recorder.Status(),
	}
	if h.bridge != nil {
		status["bridge"] = h.bridge.GetStatistics()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams := h.recorder.Status().Streams
	writeJSON(w, http.StatusOK, map[string]any{
		"total_streams": len(streams),
		"timestamp":     time.Now().UTC(),
		"streams":       streams,
	})
}

// handleConfig implements the /config endpoint. Secrets carry json:"-"
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config)
}

// handleStart implements POST /recording/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	st := h.recorder.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"recording":  st.Recording,
		"session_id": st.SessionID,
	})
}

// handleStop implements POST /recording/stop and returns the save result
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	res, err := h.recorder.Stop(r.Context())
	switch {
	case errors.Is(err, recorder.ErrNotRecording):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type speechRequest struct {
	Items []event.SpeechItem `json:"items"`
}

// handleSpeech implements POST /events/speech
func (h *HTTPServer) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid speech event: %w", err))
		return
	}
	seq := h.recorder.ReportSpeech(req.Items)
	writeJSON(w, http.StatusOK, map[string]any{
		"recorded": seq > 0,
		"sequence": seq,
	})
}

// handleGesture implements POST /events/gesture
func (h *HTTPServer) handleGesture(w http.ResponseWriter, r *http.Request) {
	var g event.Gesture
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid gesture event: %w", err))
		return
	}
	if g.Identifier() == "" {
		writeError(w, http.StatusBadRequest, errors.New("gesture has no identifiers"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recorded": h.recorder.ReportGesture(g),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "AudioLogger",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /status":           "Recording, capture and stream status",
			"GET /streams":          "List tracked output streams",
			"GET /config":           "Get service configuration",
			"GET /metrics":          "Prometheus metrics",
			"POST /recording/start": "Start a recording session",
			"POST /recording/stop":  "Stop and save the recording session",
			"POST /events/speech":   "Report speech about to be spoken",
			"POST /events/gesture":  "Report an input gesture",
		},
		"timestamp": time.Now().UTC(),
	})
}
