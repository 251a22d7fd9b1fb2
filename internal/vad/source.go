package vad

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// FrameSink consumes fixed-size frames
type FrameSink interface {
	Feed(frame []float32) (*FrameResult, error)
	FrameSize() int
}

// ReadFrames reads little-endian float32 PCM from r and feeds it to sink one
// frame at a time until r is exhausted or ctx is cancelled. Frames that arrive
// while the sink is paused are dropped. A trailing partial frame is discarded.
func ReadFrames(ctx context.Context, r io.Reader, sink FrameSink) error {
	frameSize := sink.FrameSize()
	buf := make([]byte, frameSize*4)
	frame := make([]float32, frameSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("failed to read audio frame: %w", err)
		}

		for i := range frame {
			frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}

		if _, err := sink.Feed(frame); err != nil && !errors.Is(err, ErrNotListening) {
			return fmt.Errorf("detector rejected frame: %w", err)
		}
	}
}
