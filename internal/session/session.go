package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/streamvoice/live-dialog-service/internal/audio"
	"github.com/streamvoice/live-dialog-service/internal/dispatch"
	"github.com/streamvoice/live-dialog-service/internal/merge"
	"github.com/streamvoice/live-dialog-service/internal/metrics"
	"github.com/streamvoice/live-dialog-service/internal/segment"
	"github.com/streamvoice/live-dialog-service/internal/sink"
	"github.com/streamvoice/live-dialog-service/internal/transcription"
	"github.com/streamvoice/live-dialog-service/internal/vad"
)

// ErrSessionClosed is returned by Write after Stop.
var ErrSessionClosed = errors.New("session is closed")

// PipelineConfig bundles the per-session pipeline configuration.
type PipelineConfig struct {
	Segmenter       segment.Config
	VADMode         string
	VADThreshold    float64
	VADRiseRatio    float64
	QueueCapacity   int
	Workers         int
	SubmitTimeout   time.Duration
	MaxNoSpeechProb float64
	Merge           merge.Config
	DiarizeFinals   bool

	// Output persistence. Fs nil disables persistence.
	OutputFs  afero.Fs
	OutputDir string
}

// Session runs the pipeline for one audio stream. Write is the producer side
// and must be called from a single goroutine; everything downstream of the
// queue runs on the session's worker pool.
type Session struct {
	ID        string
	StreamKey uint64
	StartTime time.Time

	assembler *audio.Assembler
	segmenter *segment.Segmenter
	queue     *dispatch.Queue
	pool      *dispatch.Pool
	merger    *merge.Merger
	hub       *sink.Hub
	writer    *sink.JSONLWriter

	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	lastActivity  time.Time
	closed        bool
	lastDiscarded uint64
	lastDropped   uint64
}

// Info is a monitoring snapshot of one session.
type Info struct {
	ID           string              `json:"id"`
	StreamKey    uint64              `json:"stream_key"`
	StartTime    time.Time           `json:"start_time"`
	LastActivity time.Time           `json:"last_activity"`
	Duration     float64             `json:"duration"`
	Assembler    audio.AssemblerStats `json:"assembler"`
	Segmenter    segment.Stats       `json:"segmenter"`
	Queue        dispatch.QueueStats `json:"queue"`
	Pool         dispatch.PoolStats  `json:"pool"`
	Merger       merge.Stats         `json:"merger"`
	Hub          sink.HubStats       `json:"hub"`
}

// New assembles and starts a session pipeline.
func New(streamKey uint64, cfg PipelineConfig, transcriber transcription.Transcriber, identifier transcription.SpeakerIdentifier, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {
	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	segmenter, err := segment.New(cfg.Segmenter, classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	queue, err := dispatch.NewQueue(cfg.QueueCapacity, cfg.SubmitTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()

	s := &Session{
		ID:           id,
		StreamKey:    streamKey,
		StartTime:    now,
		assembler:    audio.NewAssembler(),
		segmenter:    segmenter,
		queue:        queue,
		hub:          sink.NewHub(),
		logger:       logger.With("session_id", id, "stream_key", streamKey),
		metrics:      m,
		lastActivity: now,
	}

	s.merger, err = merge.New(cfg.Merge, s.onTurnClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to create merger: %w", err)
	}

	if !cfg.DiarizeFinals {
		identifier = nil
	}

	s.pool, err = dispatch.NewPool(dispatch.PoolConfig{
		Workers:         cfg.Workers,
		SampleRate:      audio.SampleRate,
		MaxNoSpeechProb: cfg.MaxNoSpeechProb,
		Metrics:         m,
	}, queue, transcriber, identifier, s.onResult, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	if cfg.OutputFs != nil {
		writer, err := sink.NewJSONLWriter(cfg.OutputFs, cfg.OutputDir, id, s.merger.Snapshot, map[string]any{
			"stream_key":  streamKey,
			"sample_rate": audio.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create output writer: %w", err)
		}
		s.writer = writer
		s.hub.Subscribe(writer)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool.Start(s.ctx)

	return s, nil
}

func newClassifier(cfg PipelineConfig) (vad.Classifier, error) {
	switch cfg.VADMode {
	case "", "energy":
		return vad.NewEnergyClassifier(cfg.VADThreshold)
	case "flux":
		return vad.NewFluxClassifier(cfg.VADRiseRatio)
	default:
		return nil, fmt.Errorf("unknown vad mode %q", cfg.VADMode)
	}
}

// Write feeds raw PCM bytes into the pipeline. Called from the ingest path;
// it never blocks on the backend.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	frames, err := s.assembler.Write(data)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordDecodeError()
		}
		return fmt.Errorf("failed to assemble frames: %w", err)
	}

	for _, frame := range frames {
		if s.metrics != nil {
			s.metrics.RecordFrameReceived(len(frame) * 2)
		}
		for _, u := range s.segmenter.Push(frame) {
			s.submit(u)
		}
	}

	s.recordDiscarded()
	return nil
}

func (s *Session) submit(u *segment.Utterance) {
	if s.metrics != nil {
		if u.IsFinal {
			s.metrics.RecordFinalEmitted(u.Duration().Seconds())
		} else {
			s.metrics.RecordPartialEmitted()
		}
	}

	err := s.queue.Submit(s.ctx, u)
	if err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			s.logger.Warn("Final utterance rejected by full queue",
				"sequence_id", u.SequenceID,
				"duration", u.Duration())
			if s.metrics != nil {
				s.metrics.RecordFinalRejected()
			}
		} else if !errors.Is(err, dispatch.ErrQueueClosed) {
			s.logger.Error("Failed to submit utterance", "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.SetQueueDepth(s.queue.Depth())

		dropped := s.queue.GetStats().DroppedPartials
		s.mu.Lock()
		delta := dropped - s.lastDropped
		s.lastDropped = dropped
		s.mu.Unlock()
		for i := uint64(0); i < delta; i++ {
			s.metrics.RecordPartialDropped()
		}
	}
}

func (s *Session) recordDiscarded() {
	if s.metrics == nil {
		return
	}
	discarded := s.segmenter.GetStats().Discarded
	s.mu.Lock()
	delta := discarded - s.lastDiscarded
	s.lastDiscarded = discarded
	s.mu.Unlock()
	for i := uint64(0); i < delta; i++ {
		s.metrics.RecordUtteranceDiscarded()
	}
}

// onResult runs on worker goroutines.
func (s *Session) onResult(r dispatch.Result) {
	if s.metrics != nil {
		if r.Degraded {
			s.metrics.RecordDiarizationDegraded()
		}
	}

	s.hub.PublishUpdate(r)

	if r.IsFinal {
		s.merger.Add(merge.Entry{
			Speaker: r.Speaker,
			Start:   r.Start,
			End:     r.End,
			Text:    r.Text,
		})
	}
}

func (s *Session) onTurnClosed(t merge.Turn) {
	if s.metrics != nil {
		s.metrics.RecordTurnClosed(t.Interrupted)
	}
	s.hub.PublishTurn(t)
}

// Subscribe registers an output subscriber.
func (s *Session) Subscribe(sub sink.Subscriber) int {
	return s.hub.Subscribe(sub)
}

// Unsubscribe removes an output subscriber.
func (s *Session) Unsubscribe(id int) {
	s.hub.Unsubscribe(id)
}

// Transcript returns the dialog accumulated so far.
func (s *Session) Transcript() merge.Transcript {
	return s.merger.Snapshot()
}

// LastActivity returns when audio last arrived.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// GetInfo returns a monitoring snapshot.
func (s *Session) GetInfo() Info {
	s.mu.RLock()
	lastActivity := s.lastActivity
	s.mu.RUnlock()

	return Info{
		ID:           s.ID,
		StreamKey:    s.StreamKey,
		StartTime:    s.StartTime,
		LastActivity: lastActivity,
		Duration:     time.Since(s.StartTime).Seconds(),
		Assembler:    s.assembler.GetStats(),
		Segmenter:    s.segmenter.GetStats(),
		Queue:        s.queue.GetStats(),
		Pool:         s.pool.GetStats(),
		Merger:       s.merger.GetStats(),
		Hub:          s.hub.GetStats(),
	}
}

// Stop drains the pipeline and closes outputs: the open utterance is flushed
// through the queue, workers finish pending work within the grace period, and
// the merger and writer are finalized.
func (s *Session) Stop(grace time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if u := s.segmenter.Flush(); u != nil {
		s.submit(u)
	}
	s.recordDiscarded()

	s.queue.Close()

	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("Worker pool did not drain within grace period", "grace", grace)
		s.cancel()
		<-done
	}
	s.cancel()

	s.merger.Flush()

	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			s.logger.Warn("Failed to finalize transcript output", "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSessionClosed(time.Since(s.StartTime).Seconds())
	}

	s.logger.Info("Session stopped",
		"duration", time.Since(s.StartTime),
		"segmenter", s.segmenter.GetStats(),
		"queue", s.queue.GetStats(),
		"pool", s.pool.GetStats(),
		"merger", s.merger.GetStats())
}
