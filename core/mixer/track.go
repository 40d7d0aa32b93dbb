package mixer

import (
	"time"

	"soundscape/core/gainpan"
)

// SeekEpsilon keeps a seek target strictly inside the clip.
const SeekEpsilon = 0.05

// LoadState is the decode lifecycle of a track.
type LoadState int

const (
	Unloaded LoadState = iota
	Loading
	Ready
	LoadFailed
	Disposed
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case LoadFailed:
		return "load_failed"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// Playback is the transport state of a ready track.
type Playback int

const (
	Stopped Playback = iota
	Pending
	Playing
)

func (p Playback) String() string {
	switch p {
	case Pending:
		return "pending"
	case Playing:
		return "playing"
	}
	return "stopped"
}

// voice is a looping playback of the track's clip.
type voice struct {
	startedAt   time.Time
	startOffset float64 // timeline seconds at startedAt
	cursor      int     // next clip frame to render
}

func (v *voice) playhead(now time.Time) float64 {
	d := now.Sub(v.startedAt).Seconds()
	if d < 0 {
		d = 0
	}
	return v.startOffset + d
}

type pendingStart struct {
	token uint64
	timer Timer
}

// track is owned by the bus loop; nothing here is safe for concurrent use.
type track struct {
	key       uint64
	name      string
	sourceRef string
	source    *Source
	state     LoadState
	loadErr   error

	gainDB  float64
	gainSet bool
	pan     float64
	muted   bool

	isPlaying  bool
	lastOffset float64
	pending    *pendingStart
	voice      *voice
}

func newTrack(key uint64, spec TrackSpec) *track {
	t := &track{
		key:       key,
		name:      spec.Name,
		sourceRef: spec.SourceRef,
		state:     Unloaded,
	}
	if spec.GainDB != nil {
		t.gainDB = gainpan.ClampGainDB(*spec.GainDB)
		t.gainSet = true
	}
	if spec.Pan != nil {
		t.pan = gainpan.ClampPan(*spec.Pan)
	}
	return t
}

func (t *track) ready() bool {
	return t.state == Ready && t.source != nil
}

func (t *track) duration() float64 {
	if t.source == nil {
		return 0
	}
	return t.source.Duration()
}

func (t *track) playback() Playback {
	switch {
	case t.voice != nil:
		return Playing
	case t.pending != nil:
		return Pending
	}
	return Stopped
}

// loaded moves Loading to Ready. Without an explicit gain the track is
// normalized toward targetDB from the clip peak.
func (t *track) loaded(src *Source, targetDB int) {
	t.source = src
	t.state = Ready
	if !t.gainSet {
		peakDB := gainpan.PeakAmplitudeToDb(src.Peak())
		t.gainDB = gainpan.ClampGainDB(float64(gainpan.NormalizeToTargetDb(peakDB, targetDB)))
		t.gainSet = true
	}
}

func (t *track) failed(err error) {
	t.state = LoadFailed
	t.loadErr = err
}

// scheduleStart replaces any pending start with one firing after delay.
func (t *track) scheduleStart(token uint64, timer Timer) {
	t.cancelPending()
	t.pending = &pendingStart{token: token, timer: timer}
	t.isPlaying = true
}

// startVoice runs when a pending start fires. It reports false for a stale token.
func (t *track) startVoice(token uint64, now time.Time) bool {
	if t.pending == nil || t.pending.token != token || !t.ready() {
		return false
	}
	t.pending = nil
	t.voice = &voice{
		startedAt:   now,
		startOffset: t.lastOffset,
		cursor:      t.source.Clip().FrameAt(t.lastOffset),
	}
	return true
}

// stop silences the track and records where the voice was.
func (t *track) stop(now time.Time) {
	if t.voice != nil {
		t.lastOffset = t.voice.playhead(now)
		t.voice = nil
	}
	t.cancelPending()
	t.isPlaying = false
}

// halt drops the voice without recording its playhead.
func (t *track) halt() {
	t.voice = nil
	t.cancelPending()
}

func (t *track) cancelPending() {
	if t.pending != nil {
		if t.pending.timer != nil {
			t.pending.timer.Stop()
		}
		t.pending = nil
	}
}

// clampOffset bounds a seek target to [0, duration-SeekEpsilon].
func (t *track) clampOffset(offset float64) float64 {
	if offset < 0 {
		return 0
	}
	if d := t.duration(); d > 0 {
		hi := d - SeekEpsilon
		if hi < 0 {
			hi = 0
		}
		if offset > hi {
			return hi
		}
	}
	return offset
}

func (t *track) setGain(db float64) { t.gainDB = gainpan.ClampGainDB(db); t.gainSet = true }
func (t *track) setPan(p float64)   { t.pan = gainpan.ClampPan(p) }
func (t *track) setMuted(m bool)    { t.muted = m }

// linearGain is the playback gain: zero when muted.
func (t *track) linearGain() float64 {
	if t.muted {
		return 0
	}
	return gainpan.DbToLinear(t.gainDB)
}

// dispose is terminal. It returns the source for the caller to release.
func (t *track) dispose() *Source {
	t.halt()
	t.isPlaying = false
	t.state = Disposed
	src := t.source
	t.source = nil
	return src
}
