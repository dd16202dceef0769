// Package sink delivers transcription output to consumers. A fan-out hub
// pushes live updates and closed turns to registered subscribers, and a
// JSONL writer persists the stream to disk alongside an aggregated
// transcript document written when the session ends.
package sink
