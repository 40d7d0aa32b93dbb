package cache

import (
	"context"
	"testing"
	"time"

	"soundscape/model"
)

func TestRequestHash(t *testing.T) {
	g := -6.0
	a := []model.TrackState{{SourceRef: "rain.wav", GainDB: &g}, {SourceRef: "wind.wav", Pan: 0.5}}
	b := []model.TrackState{{SourceRef: "wind.wav", Pan: 0.5}, {SourceRef: "rain.wav", GainDB: &g}}

	if RequestHash(a, 90*time.Second) != RequestHash(a, 90*time.Second) {
		t.Error("RequestHash is not deterministic")
	}
	if RequestHash(a, 90*time.Second) == RequestHash(b, 90*time.Second) {
		t.Error("RequestHash ignores track order")
	}
	if RequestHash(a, 90*time.Second) == RequestHash(a, 60*time.Second) {
		t.Error("RequestHash ignores duration")
	}
}

func TestSourceKey(t *testing.T) {
	k := SourceKey("https://example.com/rain.mp3")
	if len(k) != len("source:")+40 || k == SourceKey("https://example.com/wind.mp3") {
		t.Errorf("SourceKey = %q", k)
	}
}

func TestUninitializedClient(t *testing.T) {
	ctx := context.Background()
	if (&RenderCache{}).Get(ctx, "x") != nil {
		t.Error("Get without a client should miss")
	}
	if _, err := (&SourceCache{}).Get(ctx, "x"); err == nil {
		t.Error("SourceCache.Get without a client should fail")
	}
}
