package dispatch

import (
	"strings"

	"github.com/streamvoice/live-dialog-service/internal/transcription"
)

// fillerWords are standalone utterances that carry no dialog content.
var fillerWords = map[string]struct{}{
	"ok":   {},
	"okay": {},
	"yeah": {},
	"uh":   {},
	"um":   {},
}

// NoiseFilter drops transcription segments that would pollute the dialog:
// empty results, standalone filler words, segments the backend judged to be
// non-speech, and re-hearings of text already retained. Duplicate detection
// is scoped to one utterance pass; use a fresh filter per utterance so state
// never leaks between emissions.
type NoiseFilter struct {
	maxNoSpeechProb float64
	previous        string
}

// NewNoiseFilter creates a filter dropping segments whose no-speech
// probability exceeds the given threshold.
func NewNoiseFilter(maxNoSpeechProb float64) *NoiseFilter {
	if maxNoSpeechProb <= 0 {
		maxNoSpeechProb = 0.6
	}
	return &NoiseFilter{maxNoSpeechProb: maxNoSpeechProb}
}

// Retain reports whether the segment should be kept. A retained segment
// becomes the reference for duplicate detection on the next call.
func (f *NoiseFilter) Retain(seg transcription.Segment) bool {
	normalized := normalizeText(seg.Text)
	if normalized == "" {
		return false
	}
	if _, filler := fillerWords[normalized]; filler {
		return false
	}
	if seg.NoSpeechProb > f.maxNoSpeechProb {
		return false
	}

	if f.previous != "" {
		// A truncated repeat of the previous text, or text that swallows
		// it whole, is the same speech heard twice.
		if strings.HasPrefix(f.previous, normalized) || strings.Contains(normalized, f.previous) {
			f.previous = normalized
			return false
		}
	}

	f.previous = normalized
	return true
}

func normalizeText(text string) string {
	return strings.ToLower(strings.Trim(text, " .!?,"))
}
