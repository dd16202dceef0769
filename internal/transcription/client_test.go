package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testPCM() []byte {
	return make([]byte, 3200) // 100ms of 16kHz mono
}

func newTestClient(t *testing.T, endpoint string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Endpoint:      endpoint,
		APIKey:        "test-key",
		Language:      "en",
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestClientTranscribe(t *testing.T) {
	var gotAuth, gotPath string
	var gotFields map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for key := range r.MultipartForm.Value {
			gotFields[key] = r.FormValue(key)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing audio file: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		if !strings.HasSuffix(header.Filename, ".wav") {
			t.Errorf("Audio filename = %q, want .wav suffix", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"segments":[{"start":0,"end":0.5,"text":"hello","confidence":0.95,"no_speech_prob":0.01}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	defer c.Close()

	segments, err := c.Transcribe(context.Background(), testPCM(), 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}
	if segments[0].Text != "hello" || segments[0].End != 0.5 {
		t.Errorf("Unexpected segment: %+v", segments[0])
	}

	if gotPath != "/transcribe" {
		t.Errorf("Path = %q, want /transcribe", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotFields["sample_rate"] != "16000" {
		t.Errorf("sample_rate field = %q, want 16000", gotFields["sample_rate"])
	}
	if gotFields["language"] != "en" {
		t.Errorf("language field = %q, want en", gotFields["language"])
	}
	if gotFields["request_id"] == "" {
		t.Error("Missing request_id field")
	}

	stats := c.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestClientDiarizeSendsReference(t *testing.T) {
	var hadReference bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/diarize" {
			t.Errorf("Path = %q, want /diarize", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if file, _, err := r.FormFile("reference"); err == nil {
			hadReference = true
			file.Close()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"spans":[{"start":0,"end":1.5,"speaker":"SPEAKER_00"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.ReferenceVoice = make([]byte, 1600)
	})
	defer c.Close()

	spans, err := c.Diarize(context.Background(), testPCM(), 16000)
	if err != nil {
		t.Fatalf("Diarize failed: %v", err)
	}

	if len(spans) != 1 || spans[0].Speaker != "SPEAKER_00" {
		t.Errorf("Unexpected spans: %+v", spans)
	}
	if !hadReference {
		t.Error("Diarize request should carry the reference voiceprint")
	}
}

func TestClientDoesNotRetryFailures(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "backend overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	defer c.Close()

	if _, err := c.Transcribe(context.Background(), testPCM(), 16000); err == nil {
		t.Fatal("Expected error from failing backend")
	}

	// One request only: by the time a retry finished the audio would be
	// stale, so failures are surfaced immediately.
	if requests != 1 {
		t.Errorf("Backend saw %d requests, want 1", requests)
	}

	stats := c.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", stats.FailedRequests)
	}
}

func TestClientRejectsEmptyAudio(t *testing.T) {
	c := newTestClient(t, "http://localhost:1", nil)
	defer c.Close()

	if _, err := c.Transcribe(context.Background(), nil, 16000); err == nil {
		t.Error("Expected error for empty audio")
	}
}

func TestClientHonorsContextWhileQueued(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"segments":[]}`))
	}))
	defer server.Close()
	defer close(release)

	c := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.MaxConcurrent = 1
	})

	// Occupy the only slot.
	go c.Transcribe(context.Background(), testPCM(), 16000)

	// Wait for the first request to hold the semaphore.
	deadline := time.Now().Add(2 * time.Second)
	for c.GetStats().ActiveRequests == 0 {
		if time.Now().After(deadline) {
			t.Fatal("First request never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Transcribe(ctx, testPCM(), 16000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Queued request error = %v, want context deadline", err)
	}
}

func TestUnavailableIdentifier(t *testing.T) {
	_, err := Unavailable{}.Diarize(context.Background(), testPCM(), 16000)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Unavailable.Diarize error = %v, want ErrUnavailable", err)
	}
}
