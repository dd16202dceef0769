package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/streamvoice/live-dialog-service/internal/audio"
	"github.com/streamvoice/live-dialog-service/internal/merge"
	"github.com/streamvoice/live-dialog-service/internal/segment"
	"github.com/streamvoice/live-dialog-service/internal/transcription"
)

// fixedTranscriber returns one segment spanning the whole buffer.
type fixedTranscriber struct {
	text string
}

func (f fixedTranscriber) Transcribe(_ context.Context, pcm []byte, sampleRate int) ([]transcription.Segment, error) {
	duration := float64(len(pcm)) / 2 / float64(sampleRate)
	return []transcription.Segment{
		{Start: 0, End: duration, Text: f.text, Confidence: 0.9, NoSpeechProb: 0.01},
	}, nil
}

// fixedIdentifier labels the whole buffer as a single speaker.
type fixedIdentifier struct {
	speaker string
}

func (f fixedIdentifier) Diarize(_ context.Context, pcm []byte, sampleRate int) ([]transcription.SpeakerSpan, error) {
	duration := float64(len(pcm)) / 2 / float64(sampleRate)
	return []transcription.SpeakerSpan{{Start: 0, End: duration, Speaker: f.speaker}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Segmenter: segment.Config{
			PartialInterval:     time.Second,
			PartialWindowFrames: 30,
			MinSpeechFrames:     5,
			PostSilenceFrames:   5,
			MaxUtteranceFrames:  100,
		},
		VADMode:         "energy",
		VADThreshold:    0.5,
		QueueCapacity:   8,
		Workers:         1,
		SubmitTimeout:   time.Second,
		MaxNoSpeechProb: 0.6,
		Merge:           merge.Config{ReorderDepth: 0, InterruptionGap: 1.0},
		DiarizeFinals:   true,
	}
}

func loudPCM(frames int) []byte {
	samples := make([]int16, frames*audio.FrameSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return audio.EncodeSamples(samples)
}

func silentPCM(frames int) []byte {
	return make([]byte, frames*audio.FrameBytes)
}

func TestSessionEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()

	cfg := testPipelineConfig()
	cfg.OutputFs = fs
	cfg.OutputDir = "out"

	s, err := New(1, cfg, fixedTranscriber{text: "hello there"}, fixedIdentifier{speaker: "SPEAKER_00"}, nil, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// One utterance: half a second of speech, then enough silence to close
	// it (the energy smoothing takes a couple of frames to decay).
	if err := s.Write(loudPCM(25)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(silentPCM(20)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	s.Stop(5 * time.Second)

	transcript := s.Transcript()
	if len(transcript.Turns) != 1 {
		t.Fatalf("Expected 1 turn, got %d: %+v", len(transcript.Turns), transcript.Turns)
	}

	turn := transcript.Turns[0]
	if turn.Speaker != "SPEAKER_00" {
		t.Errorf("Speaker = %q, want SPEAKER_00", turn.Speaker)
	}
	if turn.Text != "hello there" {
		t.Errorf("Text = %q, want %q", turn.Text, "hello there")
	}

	// Persistence wrote both the stream file and the aggregated document.
	for _, name := range []string{s.ID + ".jsonl", s.ID + ".json"} {
		if exists, _ := afero.Exists(fs, "out/"+name); !exists {
			t.Errorf("Missing output file %s", name)
		}
	}
}

func TestSessionWriteAfterStop(t *testing.T) {
	s, err := New(2, testPipelineConfig(), fixedTranscriber{text: "x"}, nil, nil, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Stop(time.Second)

	if err := s.Write(silentPCM(1)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Write after stop = %v, want ErrSessionClosed", err)
	}

	// Stop is idempotent.
	s.Stop(time.Second)
}

func TestSessionProvisionalWithoutDiarization(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.DiarizeFinals = false

	s, err := New(3, cfg, fixedTranscriber{text: "just me"}, fixedIdentifier{speaker: "SPEAKER_00"}, nil, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Write(loudPCM(25)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	s.Write(silentPCM(20))
	s.Stop(5 * time.Second)

	transcript := s.Transcript()
	if len(transcript.Turns) != 1 {
		t.Fatalf("Expected 1 turn, got %d", len(transcript.Turns))
	}
	if got := transcript.Turns[0].Speaker; got != transcription.SpeakerProvisional {
		t.Errorf("Speaker = %q, want provisional label", got)
	}
}

func TestSessionRejectsUnknownVADMode(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.VADMode = "webrtc"

	if _, err := New(4, cfg, fixedTranscriber{}, nil, nil, quietLogger()); err == nil {
		t.Error("Expected error for unknown vad mode")
	}
}

func TestManagerSessionLifecycle(t *testing.T) {
	mgrCfg := ManagerConfig{
		Pipeline:    testPipelineConfig(),
		MaxSessions: 2,
		Timeout:     time.Minute,
		StopGrace:   time.Second,
	}

	mgr, err := NewManager(mgrCfg, fixedTranscriber{text: "x"}, nil, nil, quietLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Stop()

	a, err := mgr.GetOrCreate(10)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	// Same key returns the same session.
	again, err := mgr.GetOrCreate(10)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if again != a {
		t.Error("Same stream key should map to the same session")
	}

	if _, err := mgr.GetOrCreate(20); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	// At the limit.
	if _, err := mgr.GetOrCreate(30); err == nil {
		t.Error("Expected error at the session limit")
	}

	if mgr.ActiveCount() != 2 {
		t.Errorf("ActiveCount = %d, want 2", mgr.ActiveCount())
	}

	if session, ok := mgr.GetByID(a.ID); !ok || session != a {
		t.Error("GetByID should find the session")
	}

	if !mgr.Remove(10) {
		t.Error("Remove should report success for a live session")
	}
	if mgr.Remove(10) {
		t.Error("Remove should report failure for a missing session")
	}
	if mgr.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", mgr.ActiveCount())
	}
}

func TestManagerHandleAudioCreatesSession(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{
		Pipeline:  testPipelineConfig(),
		StopGrace: time.Second,
	}, fixedTranscriber{text: "x"}, nil, nil, quietLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Stop()

	mgr.HandleAudio(42, 0, silentPCM(1))

	if _, ok := mgr.Get(42); !ok {
		t.Error("HandleAudio should create the stream's session")
	}
}

func TestManagerRequiresTranscriber(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}, nil, nil, nil, quietLogger()); err == nil {
		t.Error("Expected error for nil transcriber")
	}
}
