package model

import "testing"

func TestSoundscapeTrackStates(t *testing.T) {
	g := -3.0
	s := &Soundscape{ID: 7}
	s.SetTrackStates([]TrackState{
		{SourceRef: "rain.wav", Name: "Rain", GainDB: &g, Pan: -0.25},
		{SourceRef: "birds.mp3"},
	})

	if len(s.Sounds) != 2 || s.Sounds[1].Position != 1 || s.Sounds[0].SoundscapeID != 7 {
		t.Fatalf("Sounds = %+v", s.Sounds)
	}
	states := s.TrackStates()
	if states[0].SourceRef != "rain.wav" || states[0].Gain(0) != -3 || states[0].Pan != -0.25 {
		t.Errorf("states[0] = %+v", states[0])
	}
	if states[1].GainDB != nil || states[1].Gain(5) != 5 {
		t.Errorf("states[1] gain = %v, want unset", states[1].GainDB)
	}
}
