package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamvoice/live-dialog-service/internal/config"
	"github.com/streamvoice/live-dialog-service/internal/metrics"
	"github.com/streamvoice/live-dialog-service/internal/session"
	"github.com/streamvoice/live-dialog-service/internal/source"
)

// HTTPServer provides HTTP API endpoints for monitoring and live output
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *session.Manager
	udpSource  *source.UDPSource
	metrics    *metrics.Metrics

	startTime time.Time
	wsClients atomic.Int64
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessionMgr *session.Manager, udpSource *source.UDPSource, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		udpSource:  udpSource,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Transcript endpoints
	mux.HandleFunc("/transcript/", h.withMetrics("/transcript/{id}", h.handleTranscript))

	// Live update stream (websocket upgrade; timeouts do not apply to hijacked conns)
	mux.HandleFunc("/live/", h.handleLive)

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

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
	h.logger.Info("Starting HTTP API server", "address", h.server.Addr)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "live-dialog-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.sessionMgr.ActiveCount(),
			},
		},
	}

	if h.udpSource != nil {
		udpStats := h.udpSource.GetStats()
		health["components"].(map[string]interface{})["udp_source"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessionMgr.GetAllSessions()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.GetInfo())
	}

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := h.sessionByPath(w, r, "/sessions/")
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.GetInfo())
}

// handleTranscript implements the /transcript/{id} endpoint
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := h.sessionByPath(w, r, "/transcript/")
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Transcript())
}

// sessionByPath resolves a session from the id following the given prefix.
func (h *HTTPServer) sessionByPath(w http.ResponseWriter, r *http.Request, prefix string) (*session.Session, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return nil, false
	}

	s, exists := h.sessionMgr.GetByID(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}

	return s, true
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":                h.config.Server.UDPPort,
			"bind_address":            h.config.Server.BindAddress,
			"buffer_size":             h.config.Server.BufferSize,
			"max_concurrent_sessions": h.config.Server.MaxConcurrentSessions,
			"session_timeout":         h.config.Server.SessionTimeout,
		},
		"audio": map[string]interface{}{
			"sample_rate": h.config.Audio.SampleRate,
			"channels":    h.config.Audio.Channels,
			"bit_depth":   h.config.Audio.BitDepth,
		},
		"segmenter": map[string]interface{}{
			"partial_interval": h.config.Segmenter.PartialInterval,
			"partial_window":   h.config.Segmenter.PartialWindow,
			"min_speech":       h.config.Segmenter.MinSpeech,
			"post_silence":     h.config.Segmenter.PostSilence,
			"max_utterance":    h.config.Segmenter.MaxUtterance,
		},
		"vad": map[string]interface{}{
			"mode":       h.config.VAD.Mode,
			"threshold":  h.config.VAD.Threshold,
			"rise_ratio": h.config.VAD.RiseRatio,
		},
		"dispatch": map[string]interface{}{
			"queue_capacity":     h.config.Dispatch.QueueCapacity,
			"workers":            h.config.Dispatch.Workers,
			"submit_timeout":     h.config.Dispatch.SubmitTimeout,
			"max_no_speech_prob": h.config.Dispatch.MaxNoSpeechProb,
		},
		"merge": map[string]interface{}{
			"reorder_depth":    h.config.Merge.ReorderDepth,
			"interruption_gap": h.config.Merge.InterruptionGap,
		},
		"transcription": map[string]interface{}{
			"endpoint":       h.config.Transcription.Endpoint,
			"language":       h.config.Transcription.Language,
			"model":          h.config.Transcription.Model,
			"timeout":        h.config.Transcription.Timeout,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"diarization": map[string]interface{}{
			"enabled": h.config.Diarization.Enabled,
		},
		"output": map[string]interface{}{
			"enabled":   h.config.Output.Enabled,
			"directory": h.config.Output.Directory,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.ActiveCount(),
		},
	}

	if h.udpSource != nil {
		stats["udp"] = h.udpSource.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Live Dialog Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                "API documentation",
			"GET /health":          "Service health check",
			"GET /sessions":        "List all active sessions",
			"GET /sessions/{id}":   "Get detailed session information",
			"GET /transcript/{id}": "Get the dialog transcript for a session",
			"GET /live/{id}":       "Websocket stream of live transcription updates",
			"GET /config":          "Get service configuration",
			"GET /stats":           "Get service statistics",
			"GET /metrics":         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
