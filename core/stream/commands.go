package stream

import (
	"encoding/json"
	"fmt"

	"soundscape/core/mixer"
	"soundscape/model"
)

// Command types accepted on the control feed.
const (
	CmdPlayAll    = "play_all"
	CmdStopAll    = "stop_all"
	CmdToggle     = "toggle"
	CmdSeek       = "seek"
	CmdGain       = "gain"
	CmdPan        = "pan"
	CmdMute       = "mute"
	CmdMasterGain = "master_gain"
	CmdMuteAll    = "mute_all"
	CmdUnmuteAll  = "unmute_all"
	CmdAdd        = "add"
	CmdRemove     = "remove"
)

// Controller is the part of a mix bus the feed drives. *mixer.MixBus
// implements it.
type Controller interface {
	PlayAll() error
	StopAll() error
	ToggleTrack(id int) error
	SeekAll(delta float64) error
	SetTrackGain(id int, db float64) error
	SetTrackPan(id int, pan float64) error
	SetTrackMuted(id int, muted bool) error
	SetMasterGain(db float64) error
	MuteAll() error
	UnmuteAll() error
	AddTrack(spec mixer.TrackSpec) (int, error)
	RemoveTrack(id int) error
}

// Command is one client request. Track is the display index; Value carries
// the seek delta in seconds, a gain in dB, or a pan position.
type Command struct {
	Type  string            `json:"type"`
	Track int               `json:"track"`
	Value float64           `json:"value"`
	Muted bool              `json:"muted"`
	Sound *model.TrackState `json:"sound,omitempty"`
}

// Message is one server-to-client frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// CommandError reports a rejected command back to the client.
type CommandError struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

// ParseCommand decodes a client frame.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("invalid command: %w", err)
	}
	if cmd.Type == "" {
		return cmd, fmt.Errorf("invalid command: missing type")
	}
	return cmd, nil
}

// Dispatch applies cmd to c. It returns the new track id for CmdAdd.
func Dispatch(c Controller, cmd Command) (int, error) {
	switch cmd.Type {
	case CmdPlayAll:
		return 0, c.PlayAll()
	case CmdStopAll:
		return 0, c.StopAll()
	case CmdToggle:
		return 0, c.ToggleTrack(cmd.Track)
	case CmdSeek:
		return 0, c.SeekAll(cmd.Value)
	case CmdGain:
		return 0, c.SetTrackGain(cmd.Track, cmd.Value)
	case CmdPan:
		return 0, c.SetTrackPan(cmd.Track, cmd.Value)
	case CmdMute:
		return 0, c.SetTrackMuted(cmd.Track, cmd.Muted)
	case CmdMasterGain:
		return 0, c.SetMasterGain(cmd.Value)
	case CmdMuteAll:
		return 0, c.MuteAll()
	case CmdUnmuteAll:
		return 0, c.UnmuteAll()
	case CmdAdd:
		if cmd.Sound == nil || cmd.Sound.SourceRef == "" {
			return 0, fmt.Errorf("add: sound.sourceRef is required")
		}
		return c.AddTrack(mixer.SpecFromState(*cmd.Sound))
	case CmdRemove:
		return 0, c.RemoveTrack(cmd.Track)
	default:
		return 0, fmt.Errorf("unknown command %q", cmd.Type)
	}
}
