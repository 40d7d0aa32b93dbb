package output

import (
	"io"
	"path/filepath"
	"testing"

	"soundscape/core/audio"
)

func TestFrameReader(t *testing.T) {
	frames := make(chan []int16, 3)
	frames <- []int16{1, 2}
	frames <- []int16{3, 4}
	rec := NewRecorder()
	r := NewFrameReader(frames, rec)

	buf := make([]byte, 6)
	n, err := r.Read(buf)
	if err != nil || n != 6 {
		t.Fatalf("Read = %d, %v, want 6, nil", n, err)
	}
	want := append(audio.SamplesToBytes([]int16{1, 2}), audio.SamplesToBytes([]int16{3})...)
	if string(buf) != string(want) {
		t.Errorf("Read bytes = %v, want %v", buf, want)
	}

	// The rest of the second frame, then nothing ready: short read.
	n, err = r.Read(buf)
	if err != nil || n != 2 {
		t.Errorf("Read = %d, %v, want 2, nil", n, err)
	}

	close(frames)
	if _, err := r.Read(buf); err != io.EOF {
		t.Errorf("Read after close = %v, want io.EOF", err)
	}

	if got := rec.Seconds(); got != 2.0/audio.SampleRate {
		t.Errorf("Seconds = %v, want %v", got, 2.0/audio.SampleRate)
	}
}

func TestRecorderSave(t *testing.T) {
	rec := NewRecorder()
	rec.Write([]int16{100, -100, 200, -200})
	path := filepath.Join(t.TempDir(), "take.wav")
	if err := rec.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	clip, err := audio.NewDecoder(nil).Decode(t.Context(), path)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.Frames() != 2 || clip.Samples[2] != 200 {
		t.Errorf("decoded %v, want 2 frames starting [100 -100 200]", clip.Samples)
	}
}
