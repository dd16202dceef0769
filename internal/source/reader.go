package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/streamvoice/live-dialog-service/internal/audio"
)

// ReaderSource replays a single raw PCM stream from an io.Reader, delivering
// it to the handler one frame at a time under a fixed stream key. With
// Realtime set, delivery is paced at one frame per frame period, which makes
// a recording behave like a live microphone.
type ReaderSource struct {
	reader    io.Reader
	handler   Handler
	streamKey uint64
	realtime  bool
}

// NewReaderSource creates a reader source.
func NewReaderSource(reader io.Reader, handler Handler, streamKey uint64, realtime bool) (*ReaderSource, error) {
	if reader == nil {
		return nil, errors.New("reader cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	return &ReaderSource{
		reader:    reader,
		handler:   handler,
		streamKey: streamKey,
		realtime:  realtime,
	}, nil
}

// Run reads the stream to EOF, delivering each frame to the handler. A
// trailing short read is delivered as-is; the frame assembler downstream
// carries the remainder.
func (r *ReaderSource) Run(ctx context.Context) error {
	var ticker *time.Ticker
	if r.realtime {
		ticker = time.NewTicker(audio.FrameDuration)
		defer ticker.Stop()
	}

	buf := make([]byte, audio.FrameBytes)
	var sequence uint32

	for {
		n, err := io.ReadFull(r.reader, buf)
		if n > 0 {
			pcm := make([]byte, n)
			copy(pcm, buf[:n])
			r.handler.HandleAudio(r.streamKey, sequence, pcm)
			sequence++
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("failed to read audio stream: %w", err)
		}

		if r.realtime {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}
