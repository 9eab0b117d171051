package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dzkmrn/urgency-detection-service/internal/audio"
	"github.com/dzkmrn/urgency-detection-service/internal/config"
	"github.com/dzkmrn/urgency-detection-service/internal/decision"
	"github.com/dzkmrn/urgency-detection-service/internal/feature"
	"github.com/dzkmrn/urgency-detection-service/internal/metrics"
	"github.com/dzkmrn/urgency-detection-service/internal/model"
	"github.com/dzkmrn/urgency-detection-service/internal/notify"
	"github.com/dzkmrn/urgency-detection-service/internal/pipeline"
	"github.com/dzkmrn/urgency-detection-service/internal/store"
)

// Prometheus collectors register globally, so the test binary shares one
// metrics instance.
var testMetrics = metrics.NewMetrics()

func testServer(t *testing.T) (*HTTPServer, *store.Gateway) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	artifactPath := filepath.Join(t.TempDir(), "classifier.msgpack")
	if err := model.Generate(42, 94, 13, 8, model.HeadSigmoid).WriteFile(artifactPath); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}
	classifier, err := model.Load(artifactPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	extractor, err := feature.NewExtractor(feature.DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	engine, err := decision.NewEngine(decision.PolicyThreshold, 0.5, 1)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	gateway, err := store.Open(store.Options{InMemory: true, Logger: logger})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { gateway.Close() })

	hub := notify.NewHub(logger, 4)
	t.Cleanup(hub.Close)

	archiver, err := audio.NewArchiver(t.TempDir())
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	p, err := pipeline.New(logger, extractor, classifier, engine, gateway, hub,
		archiver, testMetrics, pipeline.Options{})
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 5000, Address: "127.0.0.1"},
	}

	return NewHTTPServer(cfg, logger, p, gateway, hub, classifier, testMetrics), gateway
}

func testWAV(t *testing.T) []byte {
	t.Helper()

	sampleRate := 16000
	samples := make([]int16, sampleRate) // 1 second
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = int16(12000 * math.Sin(2*math.Pi*440*ts))
	}

	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return wavData
}

func multipartBody(t *testing.T, wavData []byte, userID string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "recording.wav")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := part.Write(wavData); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}

	if userID != "" {
		if err := writer.WriteField("user_id", userID); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func TestProcessAudioEndpoint(t *testing.T) {
	srv, gateway := testServer(t)

	body, contentType := multipartBody(t, testWAV(t), "alice")
	req := httptest.NewRequest(http.MethodPost, "/process_audio", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status     string  `json:"status"`
		IsUrgent   bool    `json:"is_urgent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "success" {
		t.Errorf("Expected status success, got %q", resp.Status)
	}
	if resp.Confidence <= 0 || resp.Confidence >= 1 {
		t.Errorf("Expected confidence in (0, 1), got %f", resp.Confidence)
	}

	records := gateway.QueryByUser(context.Background(), "alice", 10)
	if len(records) != 1 {
		t.Errorf("Expected 1 persisted record, got %d", len(records))
	}
}

func TestProcessAudioMissingFile(t *testing.T) {
	srv, _ := testServer(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("user_id", "alice")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/process_audio", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp["error"] == "" {
		t.Error("Expected error envelope in response")
	}
}

func TestProcessAudioInvalidPayload(t *testing.T) {
	srv, _ := testServer(t)

	body, contentType := multipartBody(t, []byte("not a wav"), "bob")
	req := httptest.NewRequest(http.MethodPost, "/process_audio", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}

func TestProcessAudioMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/process_audio", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestUserHistoryEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	// Submit twice, then read the history back.
	for i := 0; i < 2; i++ {
		body, contentType := multipartBody(t, testWAV(t), "carol")
		req := httptest.NewRequest(http.MethodPost, "/process_audio", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Submission %d failed with status %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/user_history/carol", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var views []recordView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}

	if len(views) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(views))
	}

	for _, v := range views {
		if v.ID == "" {
			t.Error("Expected opaque record id in history entry")
		}
		if v.UserID != "carol" {
			t.Errorf("Expected user carol, got %q", v.UserID)
		}
		if v.Timestamp == "" {
			t.Error("Expected formatted timestamp")
		}
	}
}

func TestUserHistoryUnknownUser(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/user_history/nobody", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for unknown user, got %d", rec.Code)
	}

	var views []recordView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("Expected empty history, got %d entries", len(views))
	}
}

func TestUserHistoryMissingUser(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/user_history/", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing user id, got %d", rec.Code)
	}
}

func TestUrgentCasesEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/urgent_cases", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var views []recordView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("Failed to decode urgent cases: %v", err)
	}
}

func TestUrgentCasesInvalidHours(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/urgent_cases?hours=abc", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}

	for _, key := range []string{"detections", "notifications", "classifier"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("Expected %q in stats response", key)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status healthy, got %q", resp.Status)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS allow-origin header")
	}
}

func TestRootUnknownPath(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/definitely_not_a_route", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}
