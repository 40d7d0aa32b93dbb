package model

// TrackState is the flat per-track mix state. It is what a soundscape is
// saved as, what a render request is built from, and what a live mixing
// session is loaded from.
type TrackState struct {
	SourceRef string   `json:"sourceRef"`
	Name      string   `json:"name,omitempty"`
	GainDB    *float64 `json:"gainDb,omitempty"` // nil: normalize on first decode
	Pan       float64  `json:"pan"`
}

// Gain returns the explicit gain or fallback when none was given.
func (s TrackState) Gain(fallback float64) float64 {
	if s.GainDB == nil {
		return fallback
	}
	return *s.GainDB
}
