package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dzkmrn/urgency-detection-service/internal/config"
	"github.com/dzkmrn/urgency-detection-service/internal/metrics"
	"github.com/dzkmrn/urgency-detection-service/internal/model"
	"github.com/dzkmrn/urgency-detection-service/internal/notify"
	"github.com/dzkmrn/urgency-detection-service/internal/pipeline"
	"github.com/dzkmrn/urgency-detection-service/internal/store"
)

const (
	// maxUploadSize bounds audio submissions (10 MiB is ~5 minutes of
	// 16 kHz mono PCM, far beyond the 3 seconds the classifier sees).
	maxUploadSize = 10 << 20

	// defaultHistoryLimit caps per-user history responses.
	defaultHistoryLimit = 50

	// timestampLayout is the sortable format used in API responses.
	timestampLayout = "2006-01-02 15:04:05"
)

// HTTPServer provides the detection API and monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	pipeline   *pipeline.Pipeline
	gateway    *store.Gateway
	hub        *notify.Hub
	classifier *model.Classifier
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, p *pipeline.Pipeline,
	gateway *store.Gateway, hub *notify.Hub, classifier *model.Classifier, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		pipeline:   p,
		gateway:    gateway,
		hub:        hub,
		classifier: classifier,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/process_audio", h.withMetrics("/process_audio", h.handleProcessAudio))
	mux.HandleFunc("/user_history/", h.withMetrics("/user_history/{user_id}", h.handleUserHistory))
	mux.HandleFunc("/urgent_cases", h.withMetrics("/urgent_cases", h.handleUrgentCases))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Live detection events; upgraded connections bypass the metrics wrapper
	mux.Handle("/ws", notify.NewWSHandler(h.hub, h.logger))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with CORS headers and metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// The browser dashboard is served from a different origin
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)
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
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// handleProcessAudio implements POST /process_audio: multipart form with
// an "audio" WAV file and an optional "user_id" field.
func (h *HTTPServer) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no audio file")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "empty filename")
		return
	}

	wavData, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		userID = store.DefaultUserID
	}

	result, err := h.pipeline.Process(r.Context(), wavData, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"is_urgent":  result.IsUrgent,
		"confidence": result.Confidence,
	})
}

// recordView is the externally-safe rendering of a detection record:
// store-assigned ids are surfaced as opaque strings and timestamps use a
// sortable format.
type recordView struct {
	ID         string  `json:"_id"`
	UserID     string  `json:"user_id"`
	Timestamp  string  `json:"timestamp"`
	AudioPath  string  `json:"audio_path"`
	IsUrgent   bool    `json:"is_urgent"`
	Confidence float64 `json:"confidence"`
}

func toViews(records []store.DetectionRecord) []recordView {
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			ID:         rec.ID,
			UserID:     rec.UserID,
			Timestamp:  rec.Timestamp.Format(timestampLayout),
			AudioPath:  rec.AudioPath,
			IsUrgent:   rec.IsUrgent,
			Confidence: rec.Confidence,
		})
	}
	return views
}

// handleUserHistory implements GET /user_history/{user_id}
func (h *HTTPServer) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/user_history/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records := h.gateway.QueryByUser(r.Context(), userID, limit)
	writeJSON(w, http.StatusOK, toViews(records))
}

// handleUrgentCases implements GET /urgent_cases
func (h *HTTPServer) handleUrgentCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	window := config.StatsWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		window = time.Duration(n) * time.Hour
	}

	records := h.gateway.QueryUrgent(r.Context(), window)
	writeJSON(w, http.StatusOK, toViews(records))
}

// handleStats implements GET /stats
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats := h.gateway.Aggregate(r.Context(), config.StatsWindow)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":     time.Now().UTC(),
		"window_hours":  int(config.StatsWindow.Hours()),
		"detections":    stats,
		"notifications": h.hub.GetStats(),
		"classifier":    h.classifier.GetStats(),
	})
}

// handleHealth implements GET /health
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	classifierStats := h.classifier.GetStats()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "urgency-detection-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"classifier": map[string]interface{}{
				"status":     "loaded",
				"head":       classifierStats.Head,
				"inferences": classifierStats.Inferences,
			},
			"notifications": h.hub.GetStats(),
		},
	})
}

// handleRoot implements GET / with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Urgency Detection Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /process_audio":         "Classify a WAV recording (multipart: audio, user_id)",
			"GET /user_history/{user_id}": "Detection history for a user, newest first",
			"GET /urgent_cases":           "Urgent detections within a window, newest first",
			"GET /stats":                  "Aggregate detection statistics",
			"GET /health":                 "Service health check",
			"GET /ws":                     "Websocket stream of new detections",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError writes the uniform error envelope. Messages are descriptive
// but never include stack traces or internal paths.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
