// Package capture feeds the sliding window from live screen and audio
// capture.
//
// [FFmpegFeed] runs one ffmpeg process per input and reads fixed-size raw
// records from its stdout: packed RGB frames for video and 1/frame-rate
// blocks of s16le PCM for audio. Records are pushed to the [Sink] in arrival
// order.
package capture

import (
	"context"
	"errors"
	"io"
)

// Sink receives captured media. *window.Pair satisfies it.
type Sink interface {
	PushFrame(frame []byte)
	PushAudio(pcm []byte)
}

// Feed produces media until its context is cancelled.
type Feed interface {
	Run(ctx context.Context, sink Sink) error
}

// readRecords reads records of exactly size bytes from r and passes each to
// push as a fresh slice. A trailing partial record is discarded. It returns
// nil at end of stream.
func readRecords(r io.Reader, size int, push func([]byte)) (int, error) {
	n := 0
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return n, nil
			}
			return n, err
		}
		push(buf)
		n++
	}
}
