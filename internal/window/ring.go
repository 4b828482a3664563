package window

// FrameRing is a fixed-capacity FIFO of raw video frames. When full, each
// push evicts the oldest frame. FrameRing is not safe for concurrent use on
// its own; [Pair] provides the locking.
type FrameRing struct {
	buf  [][]byte
	head int // index of the oldest frame
	n    int
}

// NewFrameRing returns a ring that retains at most capacity frames. A
// non-positive capacity yields a ring that retains nothing.
func NewFrameRing(capacity int) *FrameRing {
	if capacity < 0 {
		capacity = 0
	}
	return &FrameRing{buf: make([][]byte, capacity)}
}

// Push appends frame, evicting the oldest frame when the ring is full. It
// reports whether an eviction took place. The ring keeps a reference to
// frame; callers must not mutate it afterwards.
func (r *FrameRing) Push(frame []byte) (evicted bool) {
	c := len(r.buf)
	if c == 0 {
		return frame != nil
	}
	if r.n < c {
		r.buf[(r.head+r.n)%c] = frame
		r.n++
		return false
	}
	r.buf[r.head] = frame
	r.head = (r.head + 1) % c
	return true
}

// Len returns the number of retained frames.
func (r *FrameRing) Len() int { return r.n }

// Cap returns the maximum number of retained frames.
func (r *FrameRing) Cap() int { return len(r.buf) }

// Snapshot returns the retained frames, oldest first. The returned slice is
// a fresh copy of the frame references.
func (r *FrameRing) Snapshot() [][]byte {
	if r.n == 0 {
		return nil
	}
	out := make([][]byte, r.n)
	c := len(r.buf)
	for i := range r.n {
		out[i] = r.buf[(r.head+i)%c]
	}
	return out
}

// PCMRing is a fixed-capacity circular byte buffer for interleaved PCM
// audio. Writes overwrite the oldest bytes once the buffer is full. Like
// [FrameRing] it relies on [Pair] for synchronisation.
type PCMRing struct {
	buf      []byte
	writePos int
	n        int // valid bytes, never more than len(buf)
}

// NewPCMRing returns a ring that retains at most capacity bytes.
func NewPCMRing(capacity int) *PCMRing {
	if capacity < 0 {
		capacity = 0
	}
	return &PCMRing{buf: make([]byte, capacity)}
}

// Write appends pcm, overwriting the oldest bytes when the ring is full. A
// block larger than the ring keeps only its newest Cap() bytes.
func (r *PCMRing) Write(pcm []byte) {
	c := len(r.buf)
	if c == 0 || len(pcm) == 0 {
		return
	}
	if len(pcm) >= c {
		copy(r.buf, pcm[len(pcm)-c:])
		r.writePos = 0
		r.n = c
		return
	}
	for len(pcm) > 0 {
		k := copy(r.buf[r.writePos:], pcm)
		pcm = pcm[k:]
		r.writePos = (r.writePos + k) % c
		r.n = min(r.n+k, c)
	}
}

// Len returns the number of retained bytes.
func (r *PCMRing) Len() int { return r.n }

// Cap returns the ring capacity in bytes.
func (r *PCMRing) Cap() int { return len(r.buf) }

// Snapshot returns a contiguous copy of the retained bytes, oldest first.
// It returns nil when the ring is empty.
func (r *PCMRing) Snapshot() []byte {
	if r.n == 0 {
		return nil
	}
	c := len(r.buf)
	out := make([]byte, r.n)
	start := (r.writePos - r.n + c) % c
	if start+r.n <= c {
		copy(out, r.buf[start:start+r.n])
		return out
	}
	first := copy(out, r.buf[start:])
	copy(out[first:], r.buf[:r.n-first])
	return out
}
