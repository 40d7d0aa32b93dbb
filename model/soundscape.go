package model

import "time"

// Soundscape 用户保存的混音
type Soundscape struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"userId" gorm:"index;not null"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Sounds    []Sound   `json:"sounds" gorm:"foreignKey:SoundscapeID"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Soundscape) TableName() string {
	return "soundscapes"
}

// Sound is one track of a saved soundscape. Position is its channel order.
type Sound struct {
	ID           int64    `json:"id" gorm:"primaryKey;autoIncrement"`
	SoundscapeID int64    `json:"soundscapeId" gorm:"index;not null"`
	Position     int      `json:"position" gorm:"not null"`
	SourceRef    string   `json:"sourceRef" gorm:"size:512;not null"`
	Name         string   `json:"name" gorm:"size:100"`
	GainDB       *float64 `json:"gainDb,omitempty"`
	Pan          float64  `json:"pan" gorm:"default:0"`
}

// TableName 指定表名
func (Sound) TableName() string {
	return "soundscape_sounds"
}

// TrackStates returns the sounds in channel order as the flat track shape.
func (s *Soundscape) TrackStates() []TrackState {
	states := make([]TrackState, len(s.Sounds))
	for i, snd := range s.Sounds {
		states[i] = TrackState{SourceRef: snd.SourceRef, Name: snd.Name, GainDB: snd.GainDB, Pan: snd.Pan}
	}
	return states
}

// SetTrackStates replaces the sounds with states, numbering positions in order.
func (s *Soundscape) SetTrackStates(states []TrackState) {
	s.Sounds = make([]Sound, len(states))
	for i, st := range states {
		s.Sounds[i] = Sound{SoundscapeID: s.ID, Position: i, SourceRef: st.SourceRef, Name: st.Name, GainDB: st.GainDB, Pan: st.Pan}
	}
}
