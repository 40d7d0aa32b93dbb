package mixer

import (
	"soundscape/core/gainpan"
	"soundscape/model"
)

// TrackSnapshot is the UI view of one track. ID is the display index.
type TrackSnapshot struct {
	ID                int     `json:"id"`
	Name              string  `json:"name,omitempty"`
	SourceRef         string  `json:"sourceRef"`
	State             string  `json:"state"`
	Playback          string  `json:"playback"`
	IsPlaying         bool    `json:"isPlaying"`
	GainDB            float64 `json:"gainDb"`
	Pan               float64 `json:"pan"`
	Muted             bool    `json:"muted"`
	LastOffsetSeconds float64 `json:"lastOffsetSeconds"`
	DurationSeconds   float64 `json:"durationSeconds"`
	// RenderSafe is false when the render path will clamp this gain.
	RenderSafe bool   `json:"renderSafe"`
	Error      string `json:"error,omitempty"`
}

// Snapshot is a consistent view of the whole bus.
type Snapshot struct {
	Tracks         []TrackSnapshot `json:"tracks"`
	MasterGainDB   float64         `json:"masterGainDb"`
	MasterMuted    bool            `json:"masterMuted"`
	Playing        bool            `json:"playing"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	Position       float64         `json:"position"`
	MaxTracks      int             `json:"maxTracks"`
	RenderSafe     bool            `json:"renderSafe"`
}

func renderSafe(db float64) bool {
	return db >= gainpan.RenderMinGainDB && db <= gainpan.RenderMaxGainDB
}

// Snapshot returns the current state of the bus.
func (b *MixBus) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := b.do(func() error {
		s = b.snapshot()
		return nil
	})
	return s, err
}

func (b *MixBus) snapshot() Snapshot {
	now := b.sched.Now()
	s := Snapshot{
		Tracks:         make([]TrackSnapshot, 0, len(b.order)),
		MasterGainDB:   b.masterGainDB,
		MasterMuted:    b.masterMuted,
		Playing:        b.transport.Playing(),
		ElapsedSeconds: b.transport.ElapsedSeconds(),
		Position:       b.transport.Position(now),
		MaxTracks:      b.opts.MaxTracks,
		RenderSafe:     true,
	}
	for i, key := range b.order {
		t := b.arena[key]
		ts := TrackSnapshot{
			ID:                i,
			Name:              t.name,
			SourceRef:         t.sourceRef,
			State:             t.state.String(),
			Playback:          t.playback().String(),
			IsPlaying:         t.isPlaying,
			GainDB:            t.gainDB,
			Pan:               t.pan,
			Muted:             t.muted,
			LastOffsetSeconds: t.lastOffset,
			DurationSeconds:   t.duration(),
			RenderSafe:        renderSafe(t.gainDB),
		}
		if t.loadErr != nil {
			ts.Error = t.loadErr.Error()
		}
		if !ts.RenderSafe {
			s.RenderSafe = false
		}
		s.Tracks = append(s.Tracks, ts)
	}
	return s
}

// TrackStates converts the snapshot back to the persisted shape.
func (s Snapshot) TrackStates() []model.TrackState {
	out := make([]model.TrackState, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		g := t.GainDB
		out = append(out, model.TrackState{
			SourceRef: t.SourceRef,
			Name:      t.Name,
			GainDB:    &g,
			Pan:       t.Pan,
		})
	}
	return out
}
