// Package vad provides per-frame voice activity classification.
// A Classifier decides speech/non-speech for one 20ms PCM frame; the energy
// classifier thresholds smoothed RMS energy, the flux classifier tracks
// spectral flux between consecutive frames.
package vad
