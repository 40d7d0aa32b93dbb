package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"soundscape/core/mixer"
	"soundscape/core/stream"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadTrackFile(t *testing.T) {
	p := writeFile(t, "night.json", `{"name":"Night","tracks":[
		{"sourceRef":"owls.wav","gainDb":-6,"pan":0.2},
		{"sourceRef":"https://example.com/wind.mp3"}]}`)
	tf, err := loadTrackFile(p)
	if err != nil {
		t.Fatalf("loadTrackFile: %v", err)
	}
	if tf.Name != "Night" || len(tf.Tracks) != 2 {
		t.Fatalf("got %+v", tf)
	}
	if want := filepath.Join(filepath.Dir(p), "owls.wav"); tf.Tracks[0].SourceRef != want {
		t.Errorf("local ref = %q, want %q", tf.Tracks[0].SourceRef, want)
	}
	if tf.Tracks[1].SourceRef != "https://example.com/wind.mp3" {
		t.Errorf("remote ref rewritten to %q", tf.Tracks[1].SourceRef)
	}
	if tf.Tracks[0].GainDB == nil || *tf.Tracks[0].GainDB != -6 {
		t.Errorf("gain = %v, want -6", tf.Tracks[0].GainDB)
	}
}

func TestLoadTrackFileBareList(t *testing.T) {
	p := writeFile(t, "beach waves.json", ` [{"sourceRef":"/abs/waves.wav"}]`)
	tf, err := loadTrackFile(p)
	if err != nil {
		t.Fatalf("loadTrackFile: %v", err)
	}
	if tf.Name != "beach waves" || tf.Tracks[0].SourceRef != "/abs/waves.wav" {
		t.Errorf("got %+v", tf)
	}
	if got := safeOutputName(tf.Name); got != "beach_waves" {
		t.Errorf("safeOutputName = %q, want beach_waves", got)
	}
}

func TestLoadTrackFileErrors(t *testing.T) {
	for name, content := range map[string]string{
		"empty.json":  `{"tracks":[]}`,
		"broken.json": `{"tracks":`,
	} {
		if _, err := loadTrackFile(writeFile(t, name, content)); err == nil {
			t.Errorf("%s: loadTrackFile accepted", name)
		}
	}
}

func TestKeyCommand(t *testing.T) {
	snap := mixer.Snapshot{
		Playing: true,
		Tracks: []mixer.TrackSnapshot{
			{ID: 0, GainDB: -6, Pan: 0},
			{ID: 1, GainDB: -12, Pan: 0.5, Muted: true},
		},
	}
	tests := []struct {
		key      byte
		want     stream.Command
		ok       bool
		selected int
	}{
		{' ', stream.Command{Type: stream.CmdStopAll}, true, 0},
		{'2', stream.Command{}, false, 1},
		{'9', stream.Command{}, false, 1},
		{'m', stream.Command{Type: stream.CmdMute, Track: 1, Muted: false}, true, 1},
		{'+', stream.Command{Type: stream.CmdGain, Track: 1, Value: -11}, true, 1},
		{']', stream.Command{Type: stream.CmdPan, Track: 1, Value: 0.6}, true, 1},
		{'1', stream.Command{}, false, 0},
		{'-', stream.Command{Type: stream.CmdGain, Track: 0, Value: -7}, true, 0},
		{'t', stream.Command{Type: stream.CmdToggle, Track: 0}, true, 0},
		{',', stream.Command{Type: stream.CmdSeek, Value: -seekStep}, true, 0},
		{'x', stream.Command{}, false, 0},
	}
	selected := 0
	for _, tt := range tests {
		got, ok := keyCommand(tt.key, &selected, snap)
		if ok != tt.ok || got.Type != tt.want.Type || got.Track != tt.want.Track || got.Muted != tt.want.Muted || !near(got.Value, tt.want.Value) {
			t.Errorf("keyCommand(%q) = %+v, %v, want %+v, %v", tt.key, got, ok, tt.want, tt.ok)
		}
		if selected != tt.selected {
			t.Errorf("after %q selected = %d, want %d", tt.key, selected, tt.selected)
		}
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestStatusLine(t *testing.T) {
	line := statusLine(mixer.Snapshot{
		Playing:  true,
		Position: 12.5,
		Tracks:   []mixer.TrackSnapshot{{Playback: "playing", GainDB: 3, RenderSafe: false}},
	}, 0)
	for _, want := range []string{"▶", "12.5s", ">1 playing +3dB", "!"} {
		if !strings.Contains(line, want) {
			t.Errorf("statusLine = %q, missing %q", line, want)
		}
	}
}
