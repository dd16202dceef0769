// Package transcription defines the contracts with the external speech-to-text
// and speaker-identification backends, plus an HTTP client implementing both
// against a remote recognition service. Backends are selected once at startup;
// an explicit Unavailable variant stands in when diarization is disabled.
package transcription
