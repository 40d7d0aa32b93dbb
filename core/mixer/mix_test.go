package mixer

import (
	"testing"

	"soundscape/core/audio"
)

func TestMixVoiceAppliesPanLawAndLoops(t *testing.T) {
	clip := []int16{1000, 2000, 3000, 4000} // two stereo frames
	acc := make([]float64, 6)               // three output frames

	next := mixVoice(acc, clip, 1, 1.0, 0.5) // L weight 0.25, R weight 0.75

	want := []float64{3000 * 0.25, 4000 * 0.75, 1000 * 0.25, 2000 * 0.75, 3000 * 0.25, 4000 * 0.75}
	for i := range want {
		if acc[i] != want[i] {
			t.Errorf("acc[%d] = %v, want %v", i, acc[i], want[i])
		}
	}
	if next != 0 {
		t.Errorf("next cursor = %d, want 0", next)
	}
}

func readyTrack(key uint64, clip *audio.Clip) *track {
	tr := newTrack(key, TrackSpec{SourceRef: clip.Path})
	tr.loaded(&Source{entry: &poolEntry{ref: clip.Path, clip: clip, peak: clip.Peak()}}, -12)
	tr.gainDB = 0
	tr.voice = &voice{}
	return tr
}

func TestRenderFrameSumsTracksThroughMaster(t *testing.T) {
	b := NewMixBus(NewSourcePool(&fakeLoader{}), Options{Scheduler: newFakeClock()})
	left := readyTrack(1, constClip("l", 1, 1000))
	left.pan = -1
	right := readyTrack(2, constClip("r", 1, 2000))
	right.pan = 1
	muted := readyTrack(3, constClip("m", 1, 8000))
	muted.muted = true
	b.arena = map[uint64]*track{1: left, 2: right, 3: muted}
	b.order = []uint64{1, 2, 3}

	b.renderFrame()
	frame := <-b.Frames()
	if len(frame) != audio.FrameSamples {
		t.Fatalf("frame len = %d, want %d", len(frame), audio.FrameSamples)
	}
	if frame[0] != 1000 || frame[1] != 2000 {
		t.Errorf("frame[0:2] = %v, want [1000 2000]", frame[:2])
	}

	b.masterMuted = true
	b.renderFrame()
	frame = <-b.Frames()
	for i, s := range frame {
		if s != 0 {
			t.Fatalf("master muted frame[%d] = %d, want 0", i, s)
		}
	}
	if w := b.Waveform(); len(w) != audio.WaveformSize || w[len(w)-1] != 0 {
		t.Errorf("waveform tail = %v, want silence after master mute", w[len(w)-1])
	}
}

func TestRenderFrameDropsWhenNoReader(t *testing.T) {
	b := NewMixBus(NewSourcePool(&fakeLoader{}), Options{Scheduler: newFakeClock()})
	for i := 0; i < frameBuffer+10; i++ {
		b.renderFrame() // must not block
	}
	if n := len(b.Frames()); n != frameBuffer {
		t.Errorf("buffered frames = %d, want %d", n, frameBuffer)
	}
}
