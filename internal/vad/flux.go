package vad

import (
	"fmt"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
)

// FluxClassifier detects speech onsets by spectral flux: the sum of positive
// magnitude changes between consecutive frame spectra. Speech modulates the
// spectrum much faster than steady background noise, so a frame whose flux
// rises riseRatio above the running baseline counts as voice.
type FluxClassifier struct {
	riseRatio float64 // Flux-over-baseline ratio that counts as voice

	prevSpectrum []float64
	baseline     float64 // Exponentially decayed flux baseline

	totalFrames uint64
	voiceFrames uint64

	mu sync.Mutex
}

// NewFluxClassifier creates a spectral flux classifier. riseRatio is how many
// times above the running baseline the flux must rise to count as voice;
// values around 1.75 work well for 20ms frames.
func NewFluxClassifier(riseRatio float64) (*FluxClassifier, error) {
	if riseRatio <= 1 {
		return nil, fmt.Errorf("rise ratio must be greater than 1, got %f", riseRatio)
	}

	return &FluxClassifier{
		riseRatio: riseRatio,
	}, nil
}

// Classify returns true when the frame's spectral flux exceeds the running
// baseline by the configured ratio.
func (c *FluxClassifier) Classify(frame []int16) (bool, error) {
	if len(frame) == 0 {
		return false, fmt.Errorf("empty frame")
	}

	input := make([]float64, len(frame))
	for i, s := range frame {
		input[i] = float64(s) / 32768.0
	}

	spectrum := fft.FFTReal(input)
	// Only the first half carries unique information for a real signal.
	mags := make([]float64, len(spectrum)/2)
	for i := range mags {
		mags[i] = cmplx.Abs(spectrum[i])
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalFrames++

	if c.prevSpectrum == nil {
		c.prevSpectrum = mags
		return false, nil
	}

	var flux float64
	for i := range mags {
		if d := mags[i] - c.prevSpectrum[i]; d > 0 {
			flux += d
		}
	}
	c.prevSpectrum = mags

	if c.baseline == 0 {
		c.baseline = flux
		return false, nil
	}

	hasVoice := flux >= c.baseline*c.riseRatio
	if hasVoice {
		c.voiceFrames++
	} else {
		// Only quiet frames feed the baseline, so sustained speech does not
		// raise the bar against itself.
		c.baseline = 0.9*c.baseline + 0.1*flux
	}

	return hasVoice, nil
}

// GetStats returns current classifier statistics.
func (c *FluxClassifier) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	voicePercentage := float64(0)
	if c.totalFrames > 0 {
		voicePercentage = float64(c.voiceFrames) / float64(c.totalFrames) * 100
	}

	return Stats{
		TotalFrames:     c.totalFrames,
		VoiceFrames:     c.voiceFrames,
		VoicePercentage: voicePercentage,
		Threshold:       c.riseRatio,
	}
}
