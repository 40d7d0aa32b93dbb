package mixer

import (
	"soundscape/core/audio"
	"soundscape/core/gainpan"
)

// mixVoice adds one looping stereo clip into acc starting at frame cursor and
// returns the cursor for the next call. Left input feeds left output scaled by
// the left pan weight, and likewise for right.
func mixVoice(acc []float64, clip []int16, cursor int, gain, pan float64) int {
	nframes := len(clip) / audio.Channels
	if nframes == 0 {
		return 0
	}
	wl, wr := gainpan.PanToStereoWeights(pan)
	gl, gr := gain*wl, gain*wr
	for i := 0; i+1 < len(acc); i += audio.Channels {
		if cursor >= nframes {
			cursor = 0
		}
		acc[i] += float64(clip[cursor*2]) * gl
		acc[i+1] += float64(clip[cursor*2+1]) * gr
		cursor++
	}
	return cursor % nframes
}

// renderFrame mixes one frame of every sounding voice through the master
// stage, feeds the waveform tap, and offers the frame to Frames.
func (b *MixBus) renderFrame() {
	for i := range b.mixBuf {
		b.mixBuf[i] = 0
	}
	for _, key := range b.order {
		t := b.arena[key]
		if t.voice == nil || !t.ready() {
			continue
		}
		t.voice.cursor = mixVoice(b.mixBuf, t.source.Clip().Samples, t.voice.cursor, t.linearGain(), t.pan)
	}

	master := gainpan.DbToLinear(b.masterGainDB)
	if b.masterMuted {
		master = 0
	}
	out := make([]int16, audio.FrameSamples)
	for i, v := range b.mixBuf {
		out[i] = audio.ClipSample(v * master)
	}

	b.tap.Write(out)
	select {
	case b.frames <- out:
	default:
	}
}
