package audio

import (
	"fmt"
	"sync"
)

// Assembler accumulates arbitrarily sized PCM byte writes and yields whole
// fixed-length frames. Capture backends deliver blocks of varying size; the
// segmenter only ever sees complete 20ms frames.
type Assembler struct {
	pending []byte

	// Statistics
	bytesIn     uint64
	framesOut   uint64
	oddRejected uint64

	mu sync.Mutex
}

// AssemblerStats represents assembler statistics for monitoring.
type AssemblerStats struct {
	BytesIn      uint64 `json:"bytes_in"`
	FramesOut    uint64 `json:"frames_out"`
	PendingBytes int    `json:"pending_bytes"`
}

// NewAssembler creates a new frame assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		pending: make([]byte, 0, FrameBytes*4),
	}
}

// Write appends raw PCM bytes and returns every complete frame now available,
// in order. Data length must be even (whole 16-bit samples).
func (a *Assembler) Write(data []byte) ([]Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(data)%2 != 0 {
		a.oddRejected++
		return nil, fmt.Errorf("pcm data length must be even, got %d bytes", len(data))
	}

	a.bytesIn += uint64(len(data))
	a.pending = append(a.pending, data...)

	var frames []Frame
	for len(a.pending) >= FrameBytes {
		frames = append(frames, DecodeFrame(a.pending[:FrameBytes]))
		a.pending = a.pending[FrameBytes:]
	}

	// Reclaim capacity once the backlog is consumed so the pending slice does
	// not alias an ever-growing backing array.
	if len(a.pending) == 0 && cap(a.pending) > FrameBytes*8 {
		a.pending = make([]byte, 0, FrameBytes*4)
	}

	a.framesOut += uint64(len(frames))
	return frames, nil
}

// Reset discards any partial frame, e.g. between sessions.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = a.pending[:0]
}

// GetStats returns current assembler statistics.
func (a *Assembler) GetStats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AssemblerStats{
		BytesIn:      a.bytesIn,
		FramesOut:    a.framesOut,
		PendingBytes: len(a.pending),
	}
}
