package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/streamvoice/live-dialog-service/internal/config"
	"github.com/streamvoice/live-dialog-service/internal/metrics"
	"github.com/streamvoice/live-dialog-service/internal/segment"
	"github.com/streamvoice/live-dialog-service/internal/session"
	"github.com/streamvoice/live-dialog-service/internal/transcription"
)

// Prometheus collectors register globally, so the test binary shares one set.
var testMetrics = metrics.NewMetrics()

type noopTranscriber struct{}

func (noopTranscriber) Transcribe(context.Context, []byte, int) ([]transcription.Segment, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(t *testing.T) *session.Manager {
	t.Helper()

	mgr, err := session.NewManager(session.ManagerConfig{
		Pipeline: session.PipelineConfig{
			Segmenter: segment.Config{
				PartialInterval:     time.Second,
				PartialWindowFrames: 30,
				MinSpeechFrames:     5,
				PostSilenceFrames:   5,
				MaxUtteranceFrames:  100,
			},
			VADThreshold:  0.5,
			QueueCapacity: 8,
			Workers:       1,
			SubmitTimeout: time.Second,
		},
		StopGrace: time.Second,
	}, noopTranscriber{}, nil, nil, quietLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func testServer(t *testing.T) (*HTTPServer, *session.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.Transcription.Endpoint = "http://localhost:9000"
	cfg.Transcription.APIKey = "super-secret"

	mgr := testManager(t)
	h := NewHTTPServer(cfg.HTTP, quietLogger(), cfg, mgr, nil, testMetrics)
	return h, mgr
}

func doRequest(t *testing.T, h *HTTPServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := testServer(t)

	rec := doRequest(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	body := decodeJSON(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthRejectsPost(t *testing.T) {
	h, _ := testServer(t)

	rec := doRequest(t, h, http.MethodPost, "/health")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", rec.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	h, mgr := testServer(t)

	if _, err := mgr.GetOrCreate(7); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	body := decodeJSON(t, rec)
	if body["total_sessions"] != float64(1) {
		t.Errorf("total_sessions = %v, want 1", body["total_sessions"])
	}
}

func TestSessionDetailEndpoint(t *testing.T) {
	h, mgr := testServer(t)

	s, err := mgr.GetOrCreate(8)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/sessions/"+s.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	body := decodeJSON(t, rec)
	if body["id"] != s.ID {
		t.Errorf("id = %v, want %s", body["id"], s.ID)
	}
}

func TestSessionDetailNotFound(t *testing.T) {
	h, _ := testServer(t)

	rec := doRequest(t, h, http.MethodGet, "/sessions/no-such-session")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/sessions/")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400 for missing id", rec.Code)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	h, mgr := testServer(t)

	s, err := mgr.GetOrCreate(9)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/transcript/"+s.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var transcript struct {
		Turns []any `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &transcript); err != nil {
		t.Fatalf("Invalid transcript response: %v", err)
	}
	if len(transcript.Turns) != 0 {
		t.Errorf("Fresh session transcript has %d turns, want 0", len(transcript.Turns))
	}
}

func TestConfigEndpointOmitsSecrets(t *testing.T) {
	h, _ := testServer(t)

	rec := doRequest(t, h, http.MethodGet, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	if strings.Contains(rec.Body.String(), "super-secret") {
		t.Error("Config response leaks the API key")
	}

	body := decodeJSON(t, rec)
	if _, ok := body["transcription"]; !ok {
		t.Error("Config response missing transcription section")
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, _ := testServer(t)

	rec := doRequest(t, h, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	body := decodeJSON(t, rec)
	if _, ok := body["uptime"]; !ok {
		t.Error("Stats response missing uptime")
	}
}

func TestRootEndpoint(t *testing.T) {
	h, _ := testServer(t)

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404 for unknown path", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := testServer(t)

	rec := doRequest(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dialog_") {
		t.Error("Metrics response missing service collectors")
	}
}
