package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Classifier decides whether one fixed-length PCM frame contains speech.
// Implementations must be side-effect free from the caller's perspective and
// return well within one frame period; the segmenter calls Classify
// synchronously on the capture path.
type Classifier interface {
	Classify(frame []int16) (bool, error)
}

// Stats represents classifier statistics for monitoring.
type Stats struct {
	TotalFrames     uint64    `json:"total_frames"`
	VoiceFrames     uint64    `json:"voice_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float64   `json:"threshold"`
}

// EnergyClassifier detects speech by thresholding smoothed RMS energy.
type EnergyClassifier struct {
	threshold float64 // Normalized energy threshold (0..1)
	smoothing float64 // Smoothing factor for the running result

	lastResult    float64
	totalFrames   uint64
	voiceFrames   uint64
	lastProcessed time.Time

	mu sync.Mutex
}

// NewEnergyClassifier creates an RMS energy classifier.
func NewEnergyClassifier(threshold float64) (*EnergyClassifier, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	return &EnergyClassifier{
		threshold: threshold,
		smoothing: 0.3,
	}, nil
}

// Classify returns true when the frame's smoothed normalized energy meets the
// threshold.
func (c *EnergyClassifier) Classify(frame []int16) (bool, error) {
	if len(frame) == 0 {
		return false, fmt.Errorf("empty frame")
	}

	var energy float64
	for _, s := range frame {
		energy += float64(s) * float64(s)
	}
	energy = math.Sqrt(energy / float64(len(frame)))

	// Normalize against a nominal speech peak level.
	normalized := energy / 10000.0
	if normalized > 1.0 {
		normalized = 1.0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.totalFrames > 0 {
		normalized = c.smoothing*normalized + (1-c.smoothing)*c.lastResult
	}
	c.lastResult = normalized

	hasVoice := normalized >= c.threshold

	c.totalFrames++
	if hasVoice {
		c.voiceFrames++
	}
	c.lastProcessed = time.Now()

	return hasVoice, nil
}

// GetStats returns current classifier statistics.
func (c *EnergyClassifier) GetStats() Stats {
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
		LastProcessed:   c.lastProcessed,
		Threshold:       c.threshold,
	}
}
