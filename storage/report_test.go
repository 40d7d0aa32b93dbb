package storage

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.size); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	objects := []ObjectInfo{
		{Key: "renders/a.mp3", Size: 100, LastModified: older, ContentType: "audio/mpeg"},
		{Key: "sounds/rain.wav", Size: 50, LastModified: newer},
		{Key: "notes.txt", Size: 7, LastModified: older},
	}
	s := Summarize(objects)
	if s.TotalObjects != 3 || s.TotalSize != 157 {
		t.Errorf("totals = %d objects %d bytes, want 3 / 157", s.TotalObjects, s.TotalSize)
	}
	if !s.LastModified.Equal(newer) {
		t.Errorf("LastModified = %v, want %v", s.LastModified, newer)
	}
	if s.ByKind["audio"] != 150 || s.ByKind["other"] != 7 {
		t.Errorf("ByKind = %v", s.ByKind)
	}

	var buf bytes.Buffer
	PrintBucketStatus(&buf, "soundscape", "renders/", objects, true)
	if !strings.Contains(buf.String(), "renders/a.mp3") {
		t.Errorf("report missing file listing:\n%s", buf.String())
	}
}
