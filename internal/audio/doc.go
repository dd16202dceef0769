// Package audio handles raw PCM framing and WAV encoding.
// It slices a continuous 16-bit mono PCM byte stream into fixed 20ms frames
// for voice activity classification, and encodes utterance audio into WAV
// containers for hand-off to transcription backends.
package audio
