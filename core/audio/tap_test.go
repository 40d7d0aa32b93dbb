package audio

import "testing"

func TestTapKeepsLatestSamplesInOrder(t *testing.T) {
	tap := NewTap(4)
	// six stereo frames; mono values 1..6 (scaled)
	var frame []int16
	for i := int16(1); i <= 6; i++ {
		frame = append(frame, i*1024, i*1024)
	}
	tap.Write(frame)

	got := tap.Samples()
	want := []float32{3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i]*1024/32768 {
			t.Errorf("Samples()[%d] = %v, want %v", i, got[i], want[i]*1024/32768)
		}
	}
}

func TestTapReset(t *testing.T) {
	tap := NewTap(WaveformSize)
	tap.Write([]int16{32767, 32767})
	tap.Reset()
	for i, v := range tap.Samples() {
		if v != 0 {
			t.Fatalf("Samples()[%d] = %v after Reset, want 0", i, v)
		}
	}
	if n := len(tap.Samples()); n != WaveformSize {
		t.Errorf("len(Samples()) = %d, want %d", n, WaveformSize)
	}
}
