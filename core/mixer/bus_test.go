package mixer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"soundscape/model"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAddTrackCapacityExceeded(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 1}}
	b, _, _ := newTestBus(t, loader)

	for i := 0; i < MaxTracks; i++ {
		if id := mustAdd(t, b, "a"); id != i {
			t.Fatalf("AddTrack id = %d, want %d", id, i)
		}
	}
	if _, err := b.AddTrack(TrackSpec{SourceRef: "a"}); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("7th AddTrack err = %v, want ErrCapacityExceeded", err)
	}
	if n := len(mustSnapshot(t, b).Tracks); n != MaxTracks {
		t.Errorf("track count = %d, want %d", n, MaxTracks)
	}
}

func TestLoadRejectsOverCapacityWithoutChange(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 1}}
	b, _, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")

	states := make([]model.TrackState, MaxTracks)
	for i := range states {
		states[i] = model.TrackState{SourceRef: "a"}
	}
	if _, err := b.Load(context.Background(), states); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Load err = %v, want ErrCapacityExceeded", err)
	}
	if n := len(mustSnapshot(t, b).Tracks); n != 1 {
		t.Errorf("track count = %d, want 1", n)
	}
}

func TestRemoveTrackReindexes(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"A": 1, "B": 1, "C": 1}}
	b, _, _ := newTestBus(t, loader)
	names := []string{"rain", "birds", "wind"}
	for i, ref := range []string{"A", "B", "C"} {
		if _, err := b.AddTrack(TrackSpec{SourceRef: ref, Name: names[i]}); err != nil {
			t.Fatal(err)
		}
	}
	awaitLoaded(t, b)

	if err := b.RemoveTrack(1); err != nil {
		t.Fatalf("RemoveTrack: %v", err)
	}
	names = Splice(names, 1)

	snap := mustSnapshot(t, b)
	if len(snap.Tracks) != 2 {
		t.Fatalf("track count = %d, want 2", len(snap.Tracks))
	}
	wantRefs := []string{"A", "C"}
	for i, tr := range snap.Tracks {
		if tr.ID != i {
			t.Errorf("track %d ID = %d, want %d", i, tr.ID, i)
		}
		if tr.SourceRef != wantRefs[i] {
			t.Errorf("track %d SourceRef = %s, want %s", i, tr.SourceRef, wantRefs[i])
		}
		if tr.Name != names[i] {
			t.Errorf("track %d Name = %s, side table has %s", i, tr.Name, names[i])
		}
	}

	if err := b.RemoveTrack(2); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("RemoveTrack(2) err = %v, want ErrTrackNotFound", err)
	}
}

func TestSpliceLeavesInputUntouched(t *testing.T) {
	in := []string{"a", "b", "c"}
	out := Splice(in, 0)
	if len(out) != 2 || out[0] != "b" || out[1] != "c" {
		t.Errorf("Splice = %v, want [b c]", out)
	}
	if in[0] != "a" || in[1] != "b" || in[2] != "c" {
		t.Errorf("input mutated: %v", in)
	}
	if got := Splice(in, 5); len(got) != 3 {
		t.Errorf("Splice out of range = %v, want input", got)
	}
}

func TestSeekAllClampsToShortestTrack(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"short": 15, "long": 40}}
	b, _, _ := newTestBus(t, loader)
	mustAdd(t, b, "short")
	mustAdd(t, b, "long")
	awaitLoaded(t, b)

	for i := 0; i < 2; i++ {
		if err := b.SeekAll(10); err != nil {
			t.Fatalf("SeekAll: %v", err)
		}
	}

	want := 15 - SeekEpsilon
	snap := mustSnapshot(t, b)
	if !approx(snap.Position, want) {
		t.Errorf("Position = %v, want %v", snap.Position, want)
	}
	for _, tr := range snap.Tracks {
		if !approx(tr.LastOffsetSeconds, want) {
			t.Errorf("track %d LastOffsetSeconds = %v, want %v", tr.ID, tr.LastOffsetSeconds, want)
		}
		if tr.IsPlaying {
			t.Errorf("track %d started by seek while stopped", tr.ID)
		}
	}

	if err := b.SeekAll(-100); err != nil {
		t.Fatal(err)
	}
	if p := mustSnapshot(t, b).Position; p != 0 {
		t.Errorf("Position after rewind = %v, want 0", p)
	}
}

func TestSeekAllWrapsLoopedPosition(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"short": 15, "long": 40}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "short")
	mustAdd(t, b, "long")
	awaitLoaded(t, b)

	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, 32200*time.Millisecond)
	if err := b.StopAll(); err != nil {
		t.Fatal(err)
	}
	if p := mustSnapshot(t, b).Position; !approx(p, 32) {
		t.Fatalf("Position = %v, want 32", p)
	}

	if err := b.SeekAll(5); err != nil {
		t.Fatal(err)
	}
	if p := mustSnapshot(t, b).Position; !approx(p, 7) {
		t.Errorf("Position after looped seek = %v, want 7", p)
	}
}

func TestPlayAllThenStopAllSyncsOffsets(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 10, "b": 7, "c": 30}}
	b, clock, _ := newTestBus(t, loader)
	for _, ref := range []string{"a", "b", "c"} {
		mustAdd(t, b, ref)
	}
	awaitLoaded(t, b)

	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	// stagger the voices: one track restarts later
	step(t, clock, b, 300*time.Millisecond)
	if err := b.ToggleTrack(1); err != nil {
		t.Fatal(err)
	}
	if err := b.ToggleTrack(1); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, 2200*time.Millisecond)

	if err := b.StopAll(); err != nil {
		t.Fatal(err)
	}
	snap := mustSnapshot(t, b)
	if snap.Playing {
		t.Error("transport still playing after StopAll")
	}
	if !approx(snap.Position, 2.3) {
		t.Errorf("Position = %v, want 2.3", snap.Position)
	}
	for _, tr := range snap.Tracks {
		if tr.LastOffsetSeconds != snap.Position {
			t.Errorf("track %d LastOffsetSeconds = %v, want transport %v", tr.ID, tr.LastOffsetSeconds, snap.Position)
		}
		if tr.IsPlaying || tr.Playback != "stopped" {
			t.Errorf("track %d playback = %s, want stopped", tr.ID, tr.Playback)
		}
	}
}

func TestPlayAllImmediatelyStopped(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 10, "b": 10}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	mustAdd(t, b, "b")
	awaitLoaded(t, b)

	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	if err := b.StopAll(); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, 2*time.Second)

	snap := mustSnapshot(t, b)
	if snap.ElapsedSeconds != 0 {
		t.Errorf("ElapsedSeconds = %d, want 0", snap.ElapsedSeconds)
	}
	for _, tr := range snap.Tracks {
		if tr.LastOffsetSeconds != snap.Position || tr.Playback != "stopped" {
			t.Errorf("track %d = %+v, want stopped at %v", tr.ID, tr, snap.Position)
		}
	}
}

func TestStaleCallbacksAfterStopAreIgnored(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 10}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	awaitLoaded(t, b)

	// Timers fire even after Stop; only the token check protects the bus.
	clock.ignoreStop = true

	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, 1500*time.Millisecond) // one tick at 1.2s
	if err := b.StopAll(); err != nil {
		t.Fatal(err)
	}
	stoppedAt := mustSnapshot(t, b).Position
	step(t, clock, b, 3*time.Second)

	snap := mustSnapshot(t, b)
	if snap.Position != stoppedAt || snap.ElapsedSeconds != 1 {
		t.Errorf("transport moved after stop: position %v (was %v), elapsed %d", snap.Position, stoppedAt, snap.ElapsedSeconds)
	}
	if tr := snap.Tracks[0]; tr.Playback != "stopped" {
		t.Errorf("playback = %s, want stopped", tr.Playback)
	}
}

func TestSupersededStartIsDropped(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 10}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	awaitLoaded(t, b)
	clock.ignoreStop = true

	if err := b.ToggleTrack(0); err != nil { // start pending at +200ms
		t.Fatal(err)
	}
	if err := b.SeekAll(5); err != nil { // supersedes with +40ms guard
		t.Fatal(err)
	}
	step(t, clock, b, 50*time.Millisecond)

	var startedAt time.Time
	inspect(t, b, func() {
		tr := b.arena[b.order[0]]
		if tr.voice == nil {
			t.Fatal("voice not started after seek guard")
		}
		startedAt = tr.voice.startedAt
		if tr.voice.startOffset != 5 {
			t.Errorf("startOffset = %v, want 5", tr.voice.startOffset)
		}
	})

	step(t, clock, b, 300*time.Millisecond) // the original start fires here
	inspect(t, b, func() {
		tr := b.arena[b.order[0]]
		if tr.voice == nil || !tr.voice.startedAt.Equal(startedAt) {
			t.Error("stale start restarted the voice")
		}
	})
}

func TestToggleTrackLeavesTransportAndOthers(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 10, "b": 10}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	mustAdd(t, b, "b")
	awaitLoaded(t, b)

	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, time.Second)
	if err := b.ToggleTrack(0); err != nil {
		t.Fatal(err)
	}

	snap := mustSnapshot(t, b)
	if !snap.Playing {
		t.Error("transport stopped by ToggleTrack")
	}
	if snap.Tracks[0].IsPlaying {
		t.Error("track 0 still playing")
	}
	if !approx(snap.Tracks[0].LastOffsetSeconds, 0.8) {
		t.Errorf("track 0 LastOffsetSeconds = %v, want 0.8", snap.Tracks[0].LastOffsetSeconds)
	}
	if snap.Tracks[1].Playback != "playing" {
		t.Errorf("track 1 playback = %s, want playing", snap.Tracks[1].Playback)
	}
}

func TestToggleTrackStoppedUsesOwnOffset(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 10, "b": 10}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	mustAdd(t, b, "b")
	awaitLoaded(t, b)
	if err := b.SeekAll(4); err != nil {
		t.Fatal(err)
	}
	if err := b.ToggleTrack(1); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, 250*time.Millisecond)

	inspect(t, b, func() {
		v := b.arena[b.order[1]].voice
		if v == nil || v.startOffset != 4 {
			t.Errorf("voice = %+v, want start at 4", v)
		}
		if b.transport.Playing() {
			t.Error("ToggleTrack started the transport")
		}
	})
}

func TestMasterMuteIsIndependentOfTrackMute(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 1, "b": 1}}
	b, _, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	mustAdd(t, b, "b")

	if err := b.SetTrackMuted(1, true); err != nil {
		t.Fatal(err)
	}
	if err := b.MuteAll(); err != nil {
		t.Fatal(err)
	}
	snap := mustSnapshot(t, b)
	if !snap.MasterMuted || snap.Tracks[0].Muted || !snap.Tracks[1].Muted {
		t.Errorf("after MuteAll: master %v, tracks %v/%v", snap.MasterMuted, snap.Tracks[0].Muted, snap.Tracks[1].Muted)
	}

	if err := b.UnmuteAll(); err != nil {
		t.Fatal(err)
	}
	snap = mustSnapshot(t, b)
	if snap.MasterMuted || !snap.Tracks[1].Muted {
		t.Errorf("after UnmuteAll: master %v, track 1 muted %v", snap.MasterMuted, snap.Tracks[1].Muted)
	}
}

func TestLoadReportsPartialFailure(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"good": 5, "also-good": 5}}
	b, _, _ := newTestBus(t, loader)

	failures, err := b.Load(context.Background(), []model.TrackState{
		{SourceRef: "good"},
		{SourceRef: "broken"},
		{SourceRef: "also-good"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	f := failures[0]
	if f.TrackID != 1 || f.SourceRef != "broken" || !errors.Is(f, errDecode) {
		t.Errorf("failure = %+v", f)
	}
	var le *AudioLoadError
	if !errors.As(error(f), &le) {
		t.Error("failure is not an AudioLoadError")
	}

	snap := mustSnapshot(t, b)
	if len(snap.Tracks) != 3 || snap.Tracks[1].State != "load_failed" {
		t.Fatalf("tracks = %+v", snap.Tracks)
	}
	if err := b.ToggleTrack(1); !errors.Is(err, ErrTrackNotReady) {
		t.Errorf("ToggleTrack(failed) err = %v, want ErrTrackNotReady", err)
	}

	// the failed track reports its new id after a removal in front of it
	if err := b.RemoveTrack(0); err != nil {
		t.Fatal(err)
	}
	failures, _ = b.Failures()
	if len(failures) != 1 || failures[0].TrackID != 0 {
		t.Errorf("failures after removal = %+v", failures)
	}
}

func TestDuplicateSourceDecodesOnce(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"rain": 3}, gate: make(chan struct{})}
	b, _, pool := newTestBus(t, loader)
	mustAdd(t, b, "rain")
	mustAdd(t, b, "rain")
	close(loader.gate)
	awaitLoaded(t, b)

	if n := loader.calls.Load(); n != 1 {
		t.Errorf("decodes = %d, want 1", n)
	}
	if n := pool.Len(); n != 1 {
		t.Errorf("pool.Len() = %d, want 1", n)
	}
	if err := b.RemoveTrack(0); err != nil {
		t.Fatal(err)
	}
	if n := pool.Len(); n != 1 {
		t.Errorf("pool.Len() after first release = %d, want 1", n)
	}
	if err := b.RemoveTrack(0); err != nil {
		t.Fatal(err)
	}
	if n := pool.Len(); n != 0 {
		t.Errorf("pool.Len() after last release = %d, want 0", n)
	}
}

func TestGainNormalizationOnlyWithoutExplicitGain(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 1}, level: 16384} // about -6 dBFS
	b, _, _ := newTestBus(t, loader)
	if _, err := b.AddTrack(TrackSpec{SourceRef: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddTrack(TrackSpec{SourceRef: "a", GainDB: ptr(3)}); err != nil {
		t.Fatal(err)
	}
	awaitLoaded(t, b)

	snap := mustSnapshot(t, b)
	if g := snap.Tracks[0].GainDB; g != -6 {
		t.Errorf("normalized gain = %v, want -6", g)
	}
	if g := snap.Tracks[1].GainDB; g != 3 {
		t.Errorf("explicit gain = %v, want 3", g)
	}
	if snap.Tracks[1].RenderSafe || snap.RenderSafe {
		t.Error("+3 dB reported as render safe")
	}
}

func TestZeroNormalizeTargetIsHonored(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 1}, level: 16384}
	target := 0
	b, _, _ := newTestBusWith(t, loader, Options{NormalizeTargetDB: &target})
	mustAdd(t, b, "a")
	awaitLoaded(t, b)

	if g := mustSnapshot(t, b).Tracks[0].GainDB; g != 6 {
		t.Errorf("gain normalized to 0 dB target = %v, want 6", g)
	}
}

func TestSetTrackGainAndPanClamp(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 1}}
	b, _, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	if err := b.SetTrackGain(0, 99); err != nil {
		t.Fatal(err)
	}
	if err := b.SetTrackPan(0, -4); err != nil {
		t.Fatal(err)
	}
	if err := b.SetMasterGain(-100); err != nil {
		t.Fatal(err)
	}
	snap := mustSnapshot(t, b)
	if snap.Tracks[0].GainDB != 18 || snap.Tracks[0].Pan != -1 || snap.MasterGainDB != -41 {
		t.Errorf("clamped = gain %v pan %v master %v", snap.Tracks[0].GainDB, snap.Tracks[0].Pan, snap.MasterGainDB)
	}
	if err := b.SetTrackGain(3, 0); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("SetTrackGain(3) err = %v, want ErrTrackNotFound", err)
	}
}

func TestTransportAdvancesWholeSecondsAfterLead(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 10}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	awaitLoaded(t, b)

	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		after time.Duration
		want  int
	}{
		{1100 * time.Millisecond, 0}, // 1.1s: lead delay plus 0.9s
		{100 * time.Millisecond, 1},  // 1.2s
		{2 * time.Second, 3},         // 3.2s
	}
	for _, tt := range tests {
		step(t, clock, b, tt.after)
		if got := mustSnapshot(t, b).ElapsedSeconds; got != tt.want {
			t.Errorf("ElapsedSeconds = %d, want %d", got, tt.want)
		}
	}
}

func TestStoppedTrackResumesWhereItLeft(t *testing.T) {
	loader := &fakeLoader{durations: map[string]float64{"a": 4}}
	b, clock, _ := newTestBus(t, loader)
	mustAdd(t, b, "a")
	awaitLoaded(t, b)

	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, 5200*time.Millisecond) // 5s of a 4s loop
	if err := b.StopAll(); err != nil {
		t.Fatal(err)
	}
	if err := b.PlayAll(); err != nil {
		t.Fatal(err)
	}
	step(t, clock, b, 200*time.Millisecond)

	inspect(t, b, func() {
		v := b.arena[b.order[0]].voice
		if v == nil {
			t.Fatal("voice not started")
		}
		if !approx(v.startOffset, 5) {
			t.Errorf("startOffset = %v, want 5", v.startOffset)
		}
		// 5s into a 4s loop is 1s into the clip
		if v.cursor != 48000 {
			t.Errorf("cursor = %d, want 48000", v.cursor)
		}
	})
}

func TestClosedBusReturnsErrClosed(t *testing.T) {
	b := NewMixBus(NewSourcePool(&fakeLoader{}), Options{Scheduler: newFakeClock()})
	go b.Run(context.Background())
	b.Close()

	if err := b.PlayAll(); !errors.Is(err, ErrClosed) {
		t.Errorf("PlayAll after Close err = %v, want ErrClosed", err)
	}
	if _, ok := <-b.Frames(); ok {
		t.Error("Frames channel still open after Close")
	}
}
