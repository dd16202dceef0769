package segment

import (
	"fmt"
	"sync"
	"time"

	"github.com/streamvoice/live-dialog-service/internal/audio"
	"github.com/streamvoice/live-dialog-service/internal/vad"
)

// Config contains segmenter tuning parameters.
type Config struct {
	// PartialInterval is the stream-time spacing between partial emissions
	// while speech continues. Lower values reduce perceived latency at the
	// cost of backend load.
	PartialInterval time.Duration

	// PartialWindowFrames bounds the trailing context carried by each partial
	// emission, keeping per-partial transcription cost near-constant.
	PartialWindowFrames int

	// MinSpeechFrames is the minimum buffered speech before a silence run may
	// finalize the utterance; shorter spans are discarded as noise.
	MinSpeechFrames int

	// PostSilenceFrames is the consecutive non-speech run that closes an
	// utterance.
	PostSilenceFrames int

	// MaxUtteranceFrames force-finalizes mid-speech, bounding worst-case
	// latency and per-utterance work.
	MaxUtteranceFrames int
}

// DefaultConfig returns the production defaults: 1s partial interval with a
// 0.6s context window, 300ms minimum speech, 400ms closing silence, 8s cap.
func DefaultConfig() Config {
	return Config{
		PartialInterval:     time.Second,
		PartialWindowFrames: 30,
		MinSpeechFrames:     15,
		PostSilenceFrames:   20,
		MaxUtteranceFrames:  400,
	}
}

// Validate checks config consistency.
func (c *Config) Validate() error {
	if c.PartialInterval <= 0 {
		return fmt.Errorf("partial interval must be positive, got %v", c.PartialInterval)
	}
	if c.PartialWindowFrames < 1 {
		return fmt.Errorf("partial window must be at least 1 frame, got %d", c.PartialWindowFrames)
	}
	if c.MinSpeechFrames < 1 {
		return fmt.Errorf("min speech frames must be at least 1, got %d", c.MinSpeechFrames)
	}
	if c.PostSilenceFrames < 1 {
		return fmt.Errorf("post silence frames must be at least 1, got %d", c.PostSilenceFrames)
	}
	if c.MaxUtteranceFrames < c.MinSpeechFrames {
		return fmt.Errorf("max utterance frames (%d) must be at least min speech frames (%d)",
			c.MaxUtteranceFrames, c.MinSpeechFrames)
	}
	return nil
}

// Stats represents segmenter statistics for monitoring.
type Stats struct {
	FramesProcessed  uint64 `json:"frames_processed"`
	ClassifierErrors uint64 `json:"classifier_errors"`
	PartialsEmitted  uint64 `json:"partials_emitted"`
	FinalsEmitted    uint64 `json:"finals_emitted"`
	Discarded        uint64 `json:"discarded"`
	InSpeech         bool   `json:"in_speech"`
}

// Segmenter classifies a continuous frame stream into utterances. It runs on
// the capture path and never blocks: each Push is a synchronous state
// transition that must complete well inside one frame period. Methods are
// safe for concurrent use, so monitoring goroutines can read stats while the
// producer pushes frames.
//
// Partial pacing uses the stream clock (samples seen) rather than wall time,
// so identical input always produces identical emissions.
type Segmenter struct {
	cfg        Config
	classifier vad.Classifier

	mu                sync.Mutex
	inSpeech          bool
	speechFrames      []audio.Frame
	speechStartSample int64
	samplesSeen       int64
	silenceRun        int
	lastPartialSample int64
	nextSeq           uint64
	lineage           uint64

	partialIntervalSamples int64

	stats Stats
}

// New creates a segmenter. The classifier must be non-nil.
func New(cfg Config, classifier vad.Classifier) (*Segmenter, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segmenter config: %w", err)
	}

	return &Segmenter{
		cfg:                    cfg,
		classifier:             classifier,
		partialIntervalSamples: int64(cfg.PartialInterval.Seconds() * audio.SampleRate),
	}, nil
}

// Push processes one frame and returns zero or more emissions, partials
// before any final. A classifier error counts as non-speech for that frame:
// the segmenter fails safe toward silence and never raises an error itself.
func (s *Segmenter) Push(frame audio.Frame) []*Utterance {
	speech, err := s.classifier.Classify(frame)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		speech = false
		s.stats.ClassifierErrors++
	}

	var emitted []*Utterance

	if speech {
		if !s.inSpeech {
			s.inSpeech = true
			s.speechFrames = s.speechFrames[:0]
			s.speechStartSample = s.samplesSeen
			s.silenceRun = 0
			s.lastPartialSample = s.samplesSeen
			s.lineage++
		}
		s.speechFrames = append(s.speechFrames, frame)
		s.silenceRun = 0

		if s.samplesSeen-s.lastPartialSample >= s.partialIntervalSamples {
			emitted = append(emitted, s.emitPartial())
			s.lastPartialSample = s.samplesSeen
		}

		if len(s.speechFrames) >= s.cfg.MaxUtteranceFrames {
			emitted = append(emitted, s.emitFinal())
			s.reset()
		}
	} else if s.inSpeech {
		s.silenceRun++
		if s.silenceRun >= s.cfg.PostSilenceFrames {
			if len(s.speechFrames) >= s.cfg.MinSpeechFrames {
				emitted = append(emitted, s.emitFinal())
			} else {
				s.stats.Discarded++
			}
			s.reset()
		}
	}

	s.samplesSeen += audio.FrameSamples
	s.stats.FramesProcessed++
	s.stats.InSpeech = s.inSpeech

	return emitted
}

// Flush force-finalizes an in-progress utterance at stream end. Spans still
// shorter than the minimum are discarded like any silence-closed blip.
func (s *Segmenter) Flush() *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inSpeech {
		return nil
	}

	var u *Utterance
	if len(s.speechFrames) >= s.cfg.MinSpeechFrames {
		u = s.emitFinal()
	} else {
		s.stats.Discarded++
	}
	s.reset()
	s.stats.InSpeech = false

	return u
}

// SamplesSeen returns the running sample counter.
func (s *Segmenter) SamplesSeen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplesSeen
}

// GetStats returns current segmenter statistics.
func (s *Segmenter) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// emitPartial copies the trailing context window into a non-final emission.
func (s *Segmenter) emitPartial() *Utterance {
	startIndex := len(s.speechFrames) - s.cfg.PartialWindowFrames
	if startIndex < 0 {
		startIndex = 0
	}

	u := &Utterance{
		SequenceID:  s.nextSeq,
		Lineage:     s.lineage,
		StartSample: s.speechStartSample + int64(startIndex)*audio.FrameSamples,
		Samples:     flatten(s.speechFrames[startIndex:]),
		IsFinal:     false,
	}
	s.nextSeq++
	s.stats.PartialsEmitted++

	return u
}

// emitFinal copies the whole buffered span into the closing emission.
func (s *Segmenter) emitFinal() *Utterance {
	u := &Utterance{
		SequenceID:  s.nextSeq,
		Lineage:     s.lineage,
		StartSample: s.speechStartSample,
		Samples:     flatten(s.speechFrames),
		IsFinal:     true,
	}
	s.nextSeq++
	s.stats.FinalsEmitted++

	return u
}

func (s *Segmenter) reset() {
	s.inSpeech = false
	s.speechFrames = s.speechFrames[:0]
	s.silenceRun = 0
}

func flatten(frames []audio.Frame) []int16 {
	out := make([]int16, 0, len(frames)*audio.FrameSamples)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
