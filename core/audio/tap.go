package audio

import "sync"

// WaveformSize is the number of points in a visualization snapshot.
const WaveformSize = 256

// Tap keeps the last size mono samples written to it, for visualization.
type Tap struct {
	mu   sync.Mutex
	buf  []float32
	pos  int
	size int
}

// NewTap returns a Tap with a ring buffer of size samples.
func NewTap(size int) *Tap {
	return &Tap{buf: make([]float32, size), size: size}
}

// Write captures a mono mix of an interleaved stereo frame, normalized to [-1, 1].
func (t *Tap) Write(frame []int16) {
	t.mu.Lock()
	for i := 0; i+1 < len(frame); i += Channels {
		t.buf[t.pos] = (float32(frame[i]) + float32(frame[i+1])) / 2 / 32768
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
}

// Reset zeroes the buffer.
func (t *Tap) Reset() {
	t.mu.Lock()
	for i := range t.buf {
		t.buf[i] = 0
	}
	t.pos = 0
	t.mu.Unlock()
}

// Samples returns the buffer contents in chronological order.
func (t *Tap) Samples() []float32 {
	out := make([]float32, t.size)
	t.mu.Lock()
	for i := 0; i < t.size; i++ {
		out[i] = t.buf[(t.pos+i)%t.size]
	}
	t.mu.Unlock()
	return out
}
