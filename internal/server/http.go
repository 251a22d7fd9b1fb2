package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/skypro1111/speech-orchestrator/internal/config"
	"github.com/skypro1111/speech-orchestrator/internal/metrics"
	"github.com/skypro1111/speech-orchestrator/internal/orchestrator"
	"github.com/skypro1111/speech-orchestrator/internal/publish"
	"github.com/skypro1111/speech-orchestrator/internal/transcription"
	"github.com/skypro1111/speech-orchestrator/internal/vad"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Controller is the capture session driven by the API
type Controller interface {
	Start() error
	Stop() error
	Status() orchestrator.Status
	ToggleMute(ctx context.Context) (bool, error)
}

// DispatchStatsSource reports dispatcher counters
type DispatchStatsSource interface {
	GetStats() transcription.DispatchStats
}

// BackendStatsSource reports per-backend transport counters
type BackendStatsSource interface {
	BackendStats() map[string]transcription.ClientStats
	IDs() []string
}

// DetectorStatsSource reports voice activity detector counters
type DetectorStatsSource interface {
	GetStats() vad.DetectorStats
}

// HistorySource returns recently published transcript events, newest first
type HistorySource interface {
	History(ctx context.Context, n int64) ([]publish.Event, error)
}

// Deps are the components exposed by the HTTP API
type Deps struct {
	Controller Controller
	Store      config.Store
	Dispatcher DispatchStatsSource
	Backends   BackendStatsSource
	Detector   DetectorStatsSource
	History    HistorySource // nil disables /history
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // nil serves the default registry
}

// HTTPServer provides the control and monitoring API
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	deps    Deps

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, deps Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger.With("component", "http"),
		deps:      deps,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))

	// Session control
	mux.HandleFunc("/start", h.withMetrics("/start", h.handleStart))
	mux.HandleFunc("/stop", h.withMetrics("/stop", h.handleStop))
	mux.HandleFunc("/mute", h.withMetrics("/mute", h.handleMute))

	// Runtime settings
	mux.HandleFunc("/settings", h.withMetrics("/settings", h.handleSettings))
	mux.HandleFunc("/settings/", h.withMetrics("/settings/{key}", h.handleSetting))

	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))
	mux.HandleFunc("/history", h.withMetrics("/history", h.handleHistory))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
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
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := h.deps.Controller.Status()
	state := "healthy"
	if session.Errored {
		state = "degraded"
	}

	system := map[string]interface{}{}
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		system["cpu_percent"] = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["memory_percent"] = vm.UsedPercent
	}

	components := map[string]interface{}{
		"orchestrator": map[string]interface{}{
			"state":   session.State,
			"errored": session.Errored,
		},
	}
	if h.deps.Dispatcher != nil {
		stats := h.deps.Dispatcher.GetStats()
		components["transcription"] = map[string]interface{}{
			"dispatched": stats.Dispatched,
			"failed":     stats.Failed,
			"in_flight":  stats.InFlight,
		}
	}
	if h.deps.Detector != nil {
		components["detector"] = h.deps.Detector.GetStats()
	}

	health := map[string]interface{}{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "speech-orchestrator",
			"version": "1.0.0",
		},
		"system":     system,
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

type statusResponse struct {
	orchestrator.Status
	Muted bool `json:"muted"`
}

func (h *HTTPServer) currentStatus(ctx context.Context) statusResponse {
	resp := statusResponse{Status: h.deps.Controller.Status()}
	if h.deps.Store != nil {
		muted, err := config.Bool(ctx, h.deps.Store, config.KeyTTSMuted)
		if err != nil {
			h.logger.Warn("Failed to read mute setting", slog.String("error", err.Error()))
		}
		resp.Muted = muted
	}
	return resp
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.currentStatus(r.Context()))
}

// handleStart implements the /start endpoint
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.deps.Controller.Start(); err != nil {
		var detectorErr *orchestrator.DetectorError
		switch {
		case errors.Is(err, orchestrator.ErrCaptureDisabled):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &detectorErr), errors.Is(err, orchestrator.ErrNotRunning):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, h.currentStatus(r.Context()))
}

// handleStop implements the /stop endpoint
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.deps.Controller.Stop(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.currentStatus(r.Context()))
}

// handleMute implements the /mute endpoint
func (h *HTTPServer) handleMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	muted, err := h.deps.Controller.ToggleMute(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

// handleSettings implements the /settings endpoint
func (h *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	settings := make(map[string]string)
	for _, key := range config.Keys() {
		value, err := h.deps.Store.Get(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		settings[key] = value
	}

	writeJSON(w, http.StatusOK, settings)
}

type settingBody struct {
	Value string `json:"value"`
}

// handleSetting implements the /settings/{key} endpoint
func (h *HTTPServer) handleSetting(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[len("/settings/"):]
	if key == "" {
		http.Error(w, "Setting key required", http.StatusBadRequest)
		return
	}
	if !config.IsKnownKey(key) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown setting %q", key))
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := h.deps.Store.Get(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})

	case http.MethodPut:
		var body settingBody
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := h.deps.Store.Set(r.Context(), key, body.Value); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.logger.Info("Setting updated", slog.String("key", key))
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}
	if h.deps.Dispatcher != nil {
		stats["dispatch"] = h.deps.Dispatcher.GetStats()
	}
	if h.deps.Backends != nil {
		stats["registered_backends"] = h.deps.Backends.IDs()
		stats["backends"] = h.deps.Backends.BackendStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleHistory implements the /history endpoint
func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, "transcript history is not enabled")
		return
	}

	limit := int64(defaultHistoryLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	events, err := h.deps.History.History(r.Context(), limit)
	if err != nil {
		h.logger.Warn("Failed to read transcript history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []publish.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
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
		"service": "Speech Orchestrator",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /status":              "Capture session status",
			"POST /start":              "Arm capture",
			"POST /stop":               "Disarm capture",
			"POST /mute":               "Toggle TTS mute",
			"GET /settings":            "List runtime settings",
			"GET /settings/{key}":      "Read a runtime setting",
			"PUT /settings/{key}":      "Write a runtime setting",
			"GET /stats/transcription": "Get transcription statistics",
			"GET /history":             "Recent transcript events",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
