package mic

import (
	"context"
	"sync"
	"sync/atomic"
)

// defaultQueueDepth is the number of chunks buffered between the audio
// thread and the reader, about four seconds at 16 kHz with 2048-frame chunks.
const defaultQueueDepth = 32

// chunkQueue re-slices the arbitrary-sized buffers delivered by the backend
// into fixed-size chunks. write is called from a single producer goroutine.
type chunkQueue struct {
	chunkBytes int
	pending    []byte
	ch         chan []byte
	overflow   atomic.Bool
	dropped    atomic.Uint64

	done chan struct{}
	once sync.Once
}

func newChunkQueue(chunkBytes, depth int) *chunkQueue {
	return &chunkQueue{
		chunkBytes: chunkBytes,
		pending:    make([]byte, 0, chunkBytes*2),
		ch:         make(chan []byte, depth),
		done:       make(chan struct{}),
	}
}

// write copies p; the backend reuses its buffer after the callback returns.
func (q *chunkQueue) write(p []byte) {
	select {
	case <-q.done:
		return
	default:
	}
	q.pending = append(q.pending, p...)
	for len(q.pending) >= q.chunkBytes {
		chunk := make([]byte, q.chunkBytes)
		copy(chunk, q.pending)
		n := copy(q.pending, q.pending[q.chunkBytes:])
		q.pending = q.pending[:n]

		select {
		case q.ch <- chunk:
		default:
			q.dropped.Add(1)
			q.overflow.Store(true)
		}
	}
}

func (q *chunkQueue) Read(ctx context.Context) ([]byte, error) {
	if q.overflow.Swap(false) {
		return nil, ErrOverflow
	}
	select {
	case c := <-q.ch:
		return c, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *chunkQueue) close() {
	q.once.Do(func() { close(q.done) })
}
