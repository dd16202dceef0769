// Package dispatch moves utterances from the segmenter to the recognition
// backend. A bounded queue decouples the real-time audio path from backend
// latency, and a worker pool performs transcription and speaker
// identification, filtering out noise before results are published.
package dispatch
