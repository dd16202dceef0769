package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamvoice/live-dialog-service/internal/audio"
)

// Config contains HTTP backend client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Language      string
	Model         string
	Timeout       time.Duration
	MaxConcurrent int

	// ReferenceVoice is an optional reference voiceprint (raw PCM) uploaded
	// with diarization requests so the backend can label the matching
	// cluster as the known speaker.
	ReferenceVoice []byte
}

// Client implements Transcriber and SpeakerIdentifier against a remote
// recognition service over HTTP. Requests are never retried: by the time a
// retry could complete, the audio is stale.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency limiting

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// transcribeResponse is the wire shape of the /transcribe reply.
type transcribeResponse struct {
	Segments []Segment `json:"segments"`
}

// diarizeResponse is the wire shape of the /diarize reply.
type diarizeResponse struct {
	Spans []SpeakerSpan `json:"spans"`
}

// NewClient creates a new backend HTTP client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe uploads the audio and returns the backend's timed segments.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) ([]Segment, error) {
	body, err := c.doRequest(ctx, "/transcribe", pcm, sampleRate, nil)
	if err != nil {
		return nil, err
	}

	var resp transcribeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	return resp.Segments, nil
}

// Diarize uploads the audio (plus the reference voiceprint, if configured)
// and returns the backend's speaker-labeled spans.
func (c *Client) Diarize(ctx context.Context, pcm []byte, sampleRate int) ([]SpeakerSpan, error) {
	body, err := c.doRequest(ctx, "/diarize", pcm, sampleRate, c.config.ReferenceVoice)
	if err != nil {
		return nil, err
	}

	var resp diarizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse diarization response: %w", err)
	}

	return resp.Spans, nil
}

// doRequest performs one HTTP request against the given backend path.
func (c *Client) doRequest(ctx context.Context, path string, pcm []byte, sampleRate int, reference []byte) ([]byte, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	body, contentType, err := c.createMultipartRequest(pcm, sampleRate, reference)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+path, body)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	c.recordSuccess(time.Since(startTime))
	return respBody, nil
}

// createMultipartRequest builds a multipart/form-data body with the WAV audio
// and request metadata.
func (c *Client) createMultipartRequest(pcm []byte, sampleRate int, reference []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	requestID := uuid.NewString()

	wav, err := audio.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode audio: %w", err)
	}

	fileWriter, err := writer.CreateFormFile("file", requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if len(reference) > 0 {
		refWriter, err := writer.CreateFormFile("reference", "reference.wav")
		if err != nil {
			return nil, "", fmt.Errorf("failed to create reference form file: %w", err)
		}
		refWAV, err := audio.EncodeWAV(reference, sampleRate)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode reference audio: %w", err)
		}
		if _, err := refWriter.Write(refWAV); err != nil {
			return nil, "", fmt.Errorf("failed to write reference data: %w", err)
		}
	}

	fields := map[string]string{
		"request_id":        requestID,
		"sample_rate":       fmt.Sprintf("%d", sampleRate),
		"request_timestamp": time.Now().Format(time.RFC3339),
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) recordSuccess(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for all in-flight requests to complete.
func (c *Client) Close() error {
	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
