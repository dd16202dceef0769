package audio

import "time"

// Audio format constants. The pipeline processes 16-bit signed mono PCM at a
// fixed sample rate, cut into fixed-length frames.
const (
	// SampleRate is the fixed input sample rate in Hz.
	SampleRate = 16000

	// FrameDuration is the fixed duration of one frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples in one frame (320 at 16 kHz).
	FrameSamples = SampleRate / 50

	// FrameBytes is the encoded size of one frame (2 bytes per sample).
	FrameBytes = FrameSamples * 2

	// BytesPerSample for 16-bit PCM.
	BytesPerSample = 2
)

// Frame is one fixed-length window of PCM samples. Frames are immutable once
// produced; the segmenter copies them into utterances as needed.
type Frame []int16

// SamplesToSeconds converts an absolute sample offset to seconds.
func SamplesToSeconds(samples int64) float64 {
	return float64(samples) / float64(SampleRate)
}

// DecodeFrame converts one frame's worth of little-endian PCM bytes into
// samples. The input must be exactly FrameBytes long.
func DecodeFrame(data []byte) Frame {
	samples := make(Frame, FrameSamples)
	for i := 0; i < FrameSamples; i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// EncodeSamples converts PCM samples to little-endian bytes.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
