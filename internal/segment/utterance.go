package segment

import (
	"time"

	"github.com/streamvoice/live-dialog-service/internal/audio"
)

// Utterance is one emitted snapshot of a detected speech span. Partial
// emissions carry a bounded trailing window of the span; the final emission
// carries the whole span. Sequence IDs are strictly increasing across all
// emissions of a segmenter, and every emission of one speech span shares a
// Lineage, so downstream stages can rely on causal order within a lineage.
type Utterance struct {
	SequenceID  uint64
	Lineage     uint64
	StartSample int64
	Samples     []int16
	IsFinal     bool
}

// Start returns the utterance start in seconds from stream start.
func (u *Utterance) Start() float64 {
	return audio.SamplesToSeconds(u.StartSample)
}

// End returns the utterance end in seconds from stream start.
func (u *Utterance) End() float64 {
	return audio.SamplesToSeconds(u.StartSample + int64(len(u.Samples)))
}

// Duration returns the utterance audio duration.
func (u *Utterance) Duration() time.Duration {
	return time.Duration(len(u.Samples)) * time.Second / audio.SampleRate
}

// PCM returns the utterance audio as little-endian PCM bytes.
func (u *Utterance) PCM() []byte {
	return audio.EncodeSamples(u.Samples)
}
