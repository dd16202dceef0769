package transcription

import (
	"context"
	"errors"
)

// Reserved speaker labels.
const (
	// SpeakerProvisional labels partial updates and diarization-off finals.
	SpeakerProvisional = "USER"

	// SpeakerUnknown labels segments no diarization span overlaps.
	SpeakerUnknown = "UNKNOWN"
)

// ErrUnavailable is returned by backend variants that were disabled at
// startup. Callers degrade gracefully instead of failing the session.
var ErrUnavailable = errors.New("backend unavailable")

// Segment is one timed, confidence-scored piece of transcribed text as
// reported by the backend. Confidence semantics belong to the backend and are
// not reinterpreted here.
type Segment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// SpeakerSpan is one diarized time span with its speaker label.
type SpeakerSpan struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Transcriber maps an audio buffer to timed text segments. Calls may be slow
// and may fail; the caller discards the affected utterance and never retries.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) ([]Segment, error)
}

// SpeakerIdentifier maps an audio buffer to speaker-labeled time spans. A
// reference voiceprint, when configured, lets the backend collapse the
// matching cluster onto the known-speaker sentinel.
type SpeakerIdentifier interface {
	Diarize(ctx context.Context, pcm []byte, sampleRate int) ([]SpeakerSpan, error)
}

// Unavailable is the explicit disabled variant for the speaker identifier.
type Unavailable struct{}

// Diarize always reports ErrUnavailable.
func (Unavailable) Diarize(context.Context, []byte, int) ([]SpeakerSpan, error) {
	return nil, ErrUnavailable
}
