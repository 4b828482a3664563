// Package window keeps the most recent N seconds of captured video frames and
// PCM audio in memory.
//
// The two sliding windows live in a [Pair] guarded by a single mutex. Pushes
// from the capture feed and snapshot copies taken by the clip writer
// serialise on that mutex; the critical section is only ever as long as a
// single push or an O(window) copy, so a save never stalls capture for longer
// than the copy itself.
package window

import (
	"sync"
	"time"
)

// DefaultBytesPerSample is the sample width of the 16-bit PCM audio window.
const DefaultBytesPerSample = 2

// Spec sizes both windows of a [Pair].
type Spec struct {
	// Seconds is the retained duration.
	Seconds int

	// FrameRate is the video frame rate in frames per second.
	FrameRate int

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved audio channels.
	Channels int

	// BytesPerSample is the width of one audio sample. Zero means
	// DefaultBytesPerSample.
	BytesPerSample int
}

// FrameCapacity returns the number of video frames the window retains.
func (s Spec) FrameCapacity() int {
	return max(s.Seconds*s.FrameRate, 0)
}

// AudioCapacity returns the number of PCM bytes the window retains.
func (s Spec) AudioCapacity() int {
	return max(s.Seconds*s.SampleRate*s.bytesPerSample()*s.Channels, 0)
}

// BlockAlign returns the size in bytes of one interleaved audio frame.
func (s Spec) BlockAlign() int {
	return s.bytesPerSample() * s.Channels
}

func (s Spec) bytesPerSample() int {
	if s.BytesPerSample <= 0 {
		return DefaultBytesPerSample
	}
	return s.BytesPerSample
}

// Snapshot is a point-in-time copy of a [Pair].
type Snapshot struct {
	// Frames holds the retained video frames, oldest first.
	Frames [][]byte

	// PCM holds the retained interleaved audio, oldest first.
	PCM []byte

	// Spec is the window configuration the snapshot was taken under.
	Spec Spec

	// TakenAt is the wall-clock time of the copy.
	TakenAt time.Time
}

// Empty reports whether the snapshot holds no video frames.
func (s Snapshot) Empty() bool { return len(s.Frames) == 0 }

// Pair is the video/audio sliding-window pair. All methods are safe for
// concurrent use.
type Pair struct {
	mu     sync.Mutex
	spec   Spec
	frames *FrameRing
	pcm    *PCMRing
	now    func() time.Time
}

// NewPair allocates both windows for spec.
func NewPair(spec Spec) *Pair {
	return &Pair{
		spec:   spec,
		frames: NewFrameRing(spec.FrameCapacity()),
		pcm:    NewPCMRing(spec.AudioCapacity()),
		now:    time.Now,
	}
}

// PushFrame appends one raw video frame, evicting the oldest frame if the
// window is full. The pair keeps a reference to frame.
func (p *Pair) PushFrame(frame []byte) {
	p.mu.Lock()
	p.frames.Push(frame)
	p.mu.Unlock()
}

// PushAudio appends a block of interleaved PCM, evicting the oldest audio if
// the window is full.
func (p *Pair) PushAudio(pcm []byte) {
	p.mu.Lock()
	p.pcm.Write(pcm)
	p.mu.Unlock()
}

// Snapshot copies both windows under the pair lock.
func (p *Pair) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Frames:  p.frames.Snapshot(),
		PCM:     p.pcm.Snapshot(),
		Spec:    p.spec,
		TakenAt: p.now(),
	}
}

// Resize replaces both windows with ones sized for spec. Previously buffered
// frames and audio are discarded.
func (p *Pair) Resize(spec Spec) {
	frames := NewFrameRing(spec.FrameCapacity())
	pcm := NewPCMRing(spec.AudioCapacity())

	p.mu.Lock()
	p.spec = spec
	p.frames = frames
	p.pcm = pcm
	p.mu.Unlock()
}

// Spec returns the current window configuration.
func (p *Pair) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// Len returns the number of buffered frames and PCM bytes.
func (p *Pair) Len() (frames, pcmBytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames.Len(), p.pcm.Len()
}
