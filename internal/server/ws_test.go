package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamvoice/live-dialog-service/internal/audio"
	"github.com/streamvoice/live-dialog-service/internal/config"
	"github.com/streamvoice/live-dialog-service/internal/segment"
	"github.com/streamvoice/live-dialog-service/internal/session"
	"github.com/streamvoice/live-dialog-service/internal/transcription"
)

// echoTranscriber returns one fixed segment for every request.
type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, pcm []byte, sampleRate int) ([]transcription.Segment, error) {
	duration := float64(len(pcm)) / 2 / float64(sampleRate)
	return []transcription.Segment{
		{Start: 0, End: duration, Text: "live text", Confidence: 0.9},
	}, nil
}

func liveTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
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
	}, echoTranscriber{}, nil, nil, quietLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	cfg := config.Default()
	cfg.Transcription.Endpoint = "http://localhost:9000"
	h := NewHTTPServer(cfg.HTTP, quietLogger(), cfg, mgr, nil, testMetrics)

	ts := httptest.NewServer(h.server.Handler)
	t.Cleanup(ts.Close)
	return ts, mgr
}

func dialLive(t *testing.T, serverURL, sessionID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/live/" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return ev
}

func speechAndSilence() []byte {
	samples := make([]int16, 45*audio.FrameSamples)
	for i := 0; i < 25*audio.FrameSamples; i++ {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return audio.EncodeSamples(samples)
}

func TestLiveStreamsEvents(t *testing.T) {
	ts, mgr := liveTestServer(t)

	s, err := mgr.GetOrCreate(100)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	conn := dialLive(t, ts.URL, s.ID)

	// The first event replays the transcript so far.
	if ev := readEvent(t, conn); ev.Type != "transcript" {
		t.Fatalf("First event type = %q, want transcript", ev.Type)
	}

	// Wait until the websocket client is subscribed, then drive one
	// utterance through the pipeline.
	deadline := time.Now().Add(2 * time.Second)
	for s.GetInfo().Hub.Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Websocket client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Write(speechAndSilence()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "update" {
		t.Fatalf("Event type = %q, want update", ev.Type)
	}
	if ev.Update == nil {
		t.Fatal("Update event has no payload")
	}
}

func TestLiveUnknownSession(t *testing.T) {
	ts, _ := liveTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live/no-such-session"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected dial to fail for unknown session")
	}
	if resp != nil {
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	}
}
