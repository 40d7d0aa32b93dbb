// Package audio holds the PCM format shared by the live mixer and the
// monitor streams, plus the decoders and ffmpeg wrappers that feed it.
package audio

import (
	"encoding/binary"
	"time"

	"soundscape/core/gainpan"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Clip is a fully decoded source: interleaved stereo int16 at SampleRate.
type Clip struct {
	Path    string
	Samples []int16
}

// NewClip wraps already-decoded interleaved stereo samples.
func NewClip(path string, samples []int16) *Clip {
	if len(samples)%Channels != 0 {
		samples = samples[:len(samples)-1]
	}
	return &Clip{Path: path, Samples: samples}
}

// Frames returns the number of sample frames (one sample per channel).
func (c *Clip) Frames() int {
	return len(c.Samples) / Channels
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	return float64(c.Frames()) / SampleRate
}

// Peak returns the normalized peak amplitude of the clip.
func (c *Clip) Peak() float64 {
	return gainpan.PeakOf(c.Samples)
}

// FrameAt converts a playhead in seconds to a frame index, wrapping at the clip end.
func (c *Clip) FrameAt(seconds float64) int {
	n := c.Frames()
	if n == 0 || seconds <= 0 {
		return 0
	}
	return int(seconds*SampleRate) % n
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples converts little-endian bytes to int16 samples. A trailing odd byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// ClipSample saturates a mixed value to the int16 range.
func ClipSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
