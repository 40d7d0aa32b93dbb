// Package output plays a mix bus on the local sound device and can record
// what was played to a WAV file.
package output

import (
	"io"
	"sync"

	"soundscape/core/audio"
)

// FrameReader turns a frame channel into the byte stream a sound device
// pulls. It returns io.EOF once the channel is closed and drained.
type FrameReader struct {
	frames  <-chan []int16
	pending []byte
	rec     *Recorder
}

// NewFrameReader reads from frames. rec may be nil.
func NewFrameReader(frames <-chan []int16, rec *Recorder) *FrameReader {
	return &FrameReader{frames: frames, rec: rec}
}

// Read blocks only until the first frame is available; after that it fills p
// with whatever is already buffered.
func (r *FrameReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			if !r.next(n == 0) {
				break
			}
			if len(r.pending) == 0 {
				if n == 0 {
					return 0, io.EOF
				}
				break
			}
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}

// next loads one frame into pending. It reports false when nothing is ready
// and block is false. A closed channel leaves pending empty.
func (r *FrameReader) next(block bool) bool {
	var frame []int16
	var ok bool
	if block {
		frame, ok = <-r.frames
	} else {
		select {
		case frame, ok = <-r.frames:
		default:
			return false
		}
	}
	if !ok {
		return true
	}
	if r.rec != nil {
		r.rec.Write(frame)
	}
	r.pending = audio.SamplesToBytes(frame)
	return true
}

// Recorder collects played frames in memory.
type Recorder struct {
	mu      sync.Mutex
	samples []int16
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Write appends one interleaved frame.
func (r *Recorder) Write(frame []int16) {
	r.mu.Lock()
	r.samples = append(r.samples, frame...)
	r.mu.Unlock()
}

// Seconds returns the recorded length.
func (r *Recorder) Seconds() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(len(r.samples)/audio.Channels) / audio.SampleRate
}

// Save writes everything recorded so far to a WAV file.
func (r *Recorder) Save(path string) error {
	r.mu.Lock()
	samples := append([]int16(nil), r.samples...)
	r.mu.Unlock()
	return audio.WriteWAVFile(path, samples)
}
