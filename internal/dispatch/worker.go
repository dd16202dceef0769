package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/streamvoice/live-dialog-service/internal/audio"
	"github.com/streamvoice/live-dialog-service/internal/metrics"
	"github.com/streamvoice/live-dialog-service/internal/segment"
	"github.com/streamvoice/live-dialog-service/internal/transcription"
)

// Result is the joined, speaker-labeled text of one utterance with stream
// timestamps. Text carries every retained backend segment, joined with single
// spaces; Speaker and Confidence come from the first retained segment.
type Result struct {
	SequenceID uint64  `json:"sequence_id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// ResultFunc receives results as workers produce them.
type ResultFunc func(Result)

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	Workers         int
	SampleRate      int
	MaxNoSpeechProb float64

	// Metrics receives backend observations. May be nil.
	Metrics *metrics.Metrics
}

// Pool runs a fixed set of workers draining the queue. A router assigns all
// emissions of one lineage to the same worker, so a final is never
// transcribed and published ahead of its own partials. Each worker
// transcribes the utterance, identifies speakers on finals, filters noise,
// and hands retained results to the configured handler. A failed request is
// logged and the utterance abandoned: the stream has moved on, and newer
// audio is always more valuable than a retry.
type Pool struct {
	config      PoolConfig
	queue       *Queue
	transcriber transcription.Transcriber
	identifier  transcription.SpeakerIdentifier
	handler     ResultFunc
	logger      *slog.Logger

	wg sync.WaitGroup

	// Statistics
	processed uint64
	failed    uint64
	filtered  uint64
	published uint64
	degraded  uint64
	statsMu   sync.RWMutex
}

// PoolStats represents worker pool statistics.
type PoolStats struct {
	Workers   int    `json:"workers"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Filtered  uint64 `json:"filtered"`
	Published uint64 `json:"published"`
	Degraded  uint64 `json:"degraded"`
}

// NewPool creates a worker pool. The identifier may be nil, in which case
// every result carries the provisional speaker label.
func NewPool(config PoolConfig, queue *Queue, transcriber transcription.Transcriber, identifier transcription.SpeakerIdentifier, handler ResultFunc, logger *slog.Logger) (*Pool, error) {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.SampleRate <= 0 {
		config.SampleRate = audio.SampleRate
	}
	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if transcriber == nil {
		return nil, errors.New("transcriber cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	return &Pool{
		config:      config,
		queue:       queue,
		transcriber: transcriber,
		identifier:  identifier,
		handler:     handler,
		logger:      logger,
	}, nil
}

// inboxDepth bounds each worker's private backlog. The router blocks when an
// inbox fills, leaving backpressure to the shared queue.
const inboxDepth = 8

// Start launches the router and the workers. They run until the context is
// cancelled or the queue is closed and drained.
func (p *Pool) Start(ctx context.Context) {
	inboxes := make([]chan *segment.Utterance, p.config.Workers)
	for i := range inboxes {
		inboxes[i] = make(chan *segment.Utterance, inboxDepth)
	}

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i, inboxes[i])
	}

	p.wg.Add(1)
	go p.route(ctx, inboxes)
}

// Wait blocks until the router and all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// route pops from the shared queue and forwards each utterance to the worker
// owning its lineage. Single-writer-per-lineage dispatch keeps every
// emission of one speech span in order through the pool.
func (p *Pool) route(ctx context.Context, inboxes []chan *segment.Utterance) {
	defer p.wg.Done()
	defer func() {
		for _, inbox := range inboxes {
			close(inbox)
		}
	}()

	for {
		u, err := p.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				p.logger.Error("Failed to pop utterance", "error", err)
			}
			return
		}

		inbox := inboxes[u.Lineage%uint64(len(inboxes))]
		select {
		case inbox <- u:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, inbox <-chan *segment.Utterance) {
	defer p.wg.Done()

	logger := p.logger.With("worker", id)

	for u := range inbox {
		p.process(ctx, logger, u)
	}
}

func (p *Pool) process(ctx context.Context, logger *slog.Logger, u *segment.Utterance) {
	pcm := u.PCM()

	if p.config.Metrics != nil {
		p.config.Metrics.RecordTranscriptionRequest()
	}
	startTime := time.Now()

	segments, err := p.transcriber.Transcribe(ctx, pcm, p.config.SampleRate)
	if err != nil {
		logger.Warn("Transcription failed",
			"sequence_id", u.SequenceID,
			"is_final", u.IsFinal,
			"duration", u.Duration(),
			"error", err)
		if p.config.Metrics != nil {
			p.config.Metrics.RecordTranscriptionFailure(time.Since(startTime).Seconds())
		}
		p.statsMu.Lock()
		p.failed++
		p.statsMu.Unlock()
		return
	}
	if p.config.Metrics != nil {
		p.config.Metrics.RecordTranscriptionSuccess(time.Since(startTime).Seconds())
	}

	var spans []transcription.SpeakerSpan
	degraded := false
	if u.IsFinal && p.identifier != nil {
		spans, err = p.identifier.Diarize(ctx, pcm, p.config.SampleRate)
		if err != nil {
			if !errors.Is(err, transcription.ErrUnavailable) {
				logger.Warn("Speaker identification failed",
					"sequence_id", u.SequenceID,
					"error", err)
			}
			spans = nil
			degraded = true
		}
	}

	// Duplicate suppression is scoped to one utterance pass: each emission
	// gets a fresh filter.
	filter := NewNoiseFilter(p.config.MaxNoSpeechProb)

	var (
		parts []string
		first transcription.Segment
		last  transcription.Segment
	)
	for _, seg := range segments {
		if !filter.Retain(seg) {
			if p.config.Metrics != nil {
				p.config.Metrics.RecordResultFiltered()
			}
			p.statsMu.Lock()
			p.filtered++
			p.statsMu.Unlock()
			continue
		}
		if len(parts) == 0 {
			first = seg
		}
		last = seg
		parts = append(parts, seg.Text)
	}

	// Everything retained from one utterance collapses into a single segment:
	// downstream consumers see at most one update per partial pass instead of
	// a burst of fragments.
	published := 0
	if len(parts) > 0 {
		speaker := transcription.SpeakerProvisional
		if u.IsFinal && p.identifier != nil && !degraded {
			speaker = speakerFor(spans, first.Start, first.End)
		}

		p.handler(Result{
			SequenceID: u.SequenceID,
			Start:      u.Start() + first.Start,
			End:        u.Start() + last.End,
			Text:       strings.Join(parts, " "),
			Speaker:    speaker,
			Confidence: first.Confidence,
			IsFinal:    u.IsFinal,
			Degraded:   degraded,
		})
		published = 1
	}

	p.statsMu.Lock()
	p.processed++
	p.published += uint64(published)
	if degraded {
		p.degraded++
	}
	p.statsMu.Unlock()
}

// speakerFor picks the speaker whose span overlaps the segment the most.
// Ties go to the span that starts earliest; a segment overlapping nothing
// gets the unknown label.
func speakerFor(spans []transcription.SpeakerSpan, start, end float64) string {
	best := transcription.SpeakerUnknown
	bestOverlap := 0.0
	bestStart := 0.0

	for _, span := range spans {
		overlap := minFloat(end, span.End) - maxFloat(start, span.Start)
		if overlap <= 0 {
			continue
		}
		if overlap > bestOverlap || (overlap == bestOverlap && span.Start < bestStart) {
			best = span.Speaker
			bestOverlap = overlap
			bestStart = span.Start
		}
	}

	return best
}

// GetStats returns current pool statistics.
func (p *Pool) GetStats() PoolStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()

	return PoolStats{
		Workers:   p.config.Workers,
		Processed: p.processed,
		Failed:    p.failed,
		Filtered:  p.filtered,
		Published: p.published,
		Degraded:  p.degraded,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
