// Package mixer is the live multi-track mixer. A MixBus owns its tracks,
// master stage and transport inside one goroutine (Run); every exported
// method is a message to that goroutine, and timer callbacks only post
// messages back to it.
package mixer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"soundscape/core/audio"
	"soundscape/core/gainpan"
	"soundscape/logger"
	"soundscape/model"
)

const (
	MaxTracks             = 6
	DefaultLeadDelay      = 200 * time.Millisecond
	DefaultSeekGuardDelay = 40 * time.Millisecond

	commandBuffer = 64
	frameBuffer   = 50 // one second of 20ms frames
)

// TrackSpec describes a track to add. Nil GainDB means normalize on decode.
type TrackSpec struct {
	SourceRef string
	Name      string
	GainDB    *float64
	Pan       *float64
}

// SpecFromState converts the persisted track shape.
func SpecFromState(s model.TrackState) TrackSpec {
	pan := s.Pan
	spec := TrackSpec{SourceRef: s.SourceRef, Name: s.Name, Pan: &pan}
	if s.GainDB != nil {
		g := *s.GainDB
		spec.GainDB = &g
	}
	return spec
}

// Options configures a MixBus. Zero values take the package defaults.
type Options struct {
	Scheduler      Scheduler
	MaxTracks      int
	LeadDelay      time.Duration
	SeekGuardDelay time.Duration
	MasterGainDB   float64
	// NormalizeTargetDB is the level tracks without an explicit gain are
	// brought to on load. Nil means gainpan.NormalizeTargetDB.
	NormalizeTargetDB *int
	// RenderFrames enables the 20ms PCM frame clock feeding Frames and Waveform.
	RenderFrames bool
}

func (o Options) withDefaults() Options {
	if o.Scheduler == nil {
		o.Scheduler = SystemScheduler
	}
	if o.MaxTracks <= 0 {
		o.MaxTracks = MaxTracks
	}
	if o.LeadDelay <= 0 {
		o.LeadDelay = DefaultLeadDelay
	}
	if o.SeekGuardDelay <= 0 {
		o.SeekGuardDelay = DefaultSeekGuardDelay
	}
	if o.NormalizeTargetDB == nil {
		target := gainpan.NormalizeTargetDB
		o.NormalizeTargetDB = &target
	}
	return o
}

// MixBus is one live mixing session.
type MixBus struct {
	opts  Options
	sched Scheduler
	pool  *SourcePool

	// owned by the Run goroutine
	arena        map[uint64]*track
	order        []uint64
	nextKey      uint64
	tokens       uint64
	transport    *TransportClock
	masterGainDB float64
	masterMuted  bool
	loadWaiters  []chan struct{}
	mixBuf       []float64

	commands chan func()
	frames   chan []int16
	tap      *audio.Tap

	loadCtx    context.Context
	loadCancel context.CancelFunc

	running   atomic.Bool
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	downOnce  sync.Once
}

// NewMixBus creates a bus. Call Run in its own goroutine before using it.
func NewMixBus(pool *SourcePool, opts Options) *MixBus {
	opts = opts.withDefaults()
	loadCtx, cancel := context.WithCancel(context.Background())
	b := &MixBus{
		opts:         opts,
		sched:        opts.Scheduler,
		pool:         pool,
		arena:        make(map[uint64]*track),
		masterGainDB: gainpan.ClampGainDB(opts.MasterGainDB),
		mixBuf:       make([]float64, audio.FrameSamples),
		commands:     make(chan func(), commandBuffer),
		frames:       make(chan []int16, frameBuffer),
		tap:          audio.NewTap(audio.WaveformSize),
		loadCtx:      loadCtx,
		loadCancel:   cancel,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	b.transport = newTransportClock(func(d time.Duration, token uint64) Timer {
		return b.sched.AfterFunc(d, func() {
			b.post(func() { b.onTick(token) })
		})
	})
	return b
}

// Run consumes commands until ctx is done or Close is called.
func (b *MixBus) Run(ctx context.Context) {
	b.running.Store(true)
	defer b.shutdown()

	var frameC <-chan time.Time
	if b.opts.RenderFrames {
		ticker := time.NewTicker(audio.FrameDuration)
		defer ticker.Stop()
		frameC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.quit:
			return
		case fn := <-b.commands:
			fn()
		case <-frameC:
			b.renderFrame()
		}
	}
}

// Close disposes every track and stops the loop.
func (b *MixBus) Close() {
	b.closeOnce.Do(func() { close(b.quit) })
	if b.running.Load() {
		<-b.done
		return
	}
	b.shutdown()
}

func (b *MixBus) shutdown() {
	b.downOnce.Do(func() {
		b.loadCancel()
		b.transport.pause(b.sched.Now())
		for _, key := range b.order {
			b.pool.Release(b.arena[key].dispose())
		}
		b.arena = map[uint64]*track{}
		b.order = nil
		for _, w := range b.loadWaiters {
			close(w)
		}
		b.loadWaiters = nil
		close(b.frames)
		close(b.done)
		logger.Debug("mix bus closed")
	})
}

// Done is closed once the bus has shut down.
func (b *MixBus) Done() <-chan struct{} {
	return b.done
}

// post enqueues fn without waiting. It reports false once the bus is closed.
func (b *MixBus) post(fn func()) bool {
	select {
	case b.commands <- fn:
		return true
	case <-b.quit:
		return false
	case <-b.done:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (b *MixBus) do(fn func() error) error {
	errc := make(chan error, 1)
	if !b.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-b.done:
		return ErrClosed
	}
}

func (b *MixBus) nextToken() uint64 {
	b.tokens++
	return b.tokens
}

func (b *MixBus) trackAt(id int) (*track, error) {
	if id < 0 || id >= len(b.order) {
		return nil, ErrTrackNotFound
	}
	return b.arena[b.order[id]], nil
}

func (b *MixBus) indexOf(key uint64) int {
	for i, k := range b.order {
		if k == key {
			return i
		}
	}
	return -1
}

func (b *MixBus) readyTracks() []*track {
	out := make([]*track, 0, len(b.order))
	for _, key := range b.order {
		if t := b.arena[key]; t.ready() {
			out = append(out, t)
		}
	}
	return out
}

// scheduleStart arms t to start after delay. The timer only posts a message;
// a start whose token was superseded is dropped in onStart.
func (b *MixBus) scheduleStart(t *track, delay time.Duration) {
	token := b.nextToken()
	key := t.key
	timer := b.sched.AfterFunc(delay, func() {
		b.post(func() { b.onStart(key, token) })
	})
	t.scheduleStart(token, timer)
}

func (b *MixBus) onStart(key uint64, token uint64) {
	t, ok := b.arena[key]
	if !ok {
		return
	}
	t.startVoice(token, b.sched.Now())
}

func (b *MixBus) onTick(token uint64) {
	now := b.sched.Now()
	if !b.transport.tick(token, now) {
		return
	}
	for _, key := range b.order {
		if t := b.arena[key]; t.voice != nil {
			t.lastOffset = t.voice.playhead(now)
		}
	}
}

func (b *MixBus) onLoaded(key uint64, src *Source, err error) {
	t, ok := b.arena[key]
	if !ok || t.state != Loading {
		b.pool.Release(src)
		return
	}
	if err != nil {
		t.failed(err)
		logger.Warn("track failed to load",
			logger.Int("track", b.indexOf(key)),
			logger.String("source", t.sourceRef),
			logger.ErrorField(err))
	} else {
		t.loaded(src, *b.opts.NormalizeTargetDB)
		logger.Debug("track ready",
			logger.Int("track", b.indexOf(key)),
			logger.String("source", t.sourceRef),
			logger.Float64("gainDb", t.gainDB))
	}
	b.notifyLoaded()
}

func (b *MixBus) loading() bool {
	for _, key := range b.order {
		if b.arena[key].state == Loading {
			return true
		}
	}
	return false
}

func (b *MixBus) notifyLoaded() {
	if b.loading() {
		return
	}
	for _, w := range b.loadWaiters {
		close(w)
	}
	b.loadWaiters = nil
}

// AddTrack appends a track and starts decoding it. The returned id is its
// display index. Decode failures surface later through Failures.
func (b *MixBus) AddTrack(spec TrackSpec) (int, error) {
	var id int
	err := b.do(func() error {
		var err error
		id, err = b.addTrack(spec)
		return err
	})
	return id, err
}

func (b *MixBus) addTrack(spec TrackSpec) (int, error) {
	if len(b.order) >= b.opts.MaxTracks {
		return 0, ErrCapacityExceeded
	}
	b.nextKey++
	key := b.nextKey
	t := newTrack(key, spec)
	t.state = Loading
	b.arena[key] = t
	b.order = append(b.order, key)

	ref := spec.SourceRef
	go func() {
		src, err := b.pool.Acquire(b.loadCtx, ref)
		if !b.post(func() { b.onLoaded(key, src, err) }) {
			b.pool.Release(src)
		}
	}()
	return len(b.order) - 1, nil
}

// RemoveTrack disposes the track; later tracks shift down one id.
func (b *MixBus) RemoveTrack(id int) error {
	return b.do(func() error {
		t, err := b.trackAt(id)
		if err != nil {
			return err
		}
		b.pool.Release(t.dispose())
		delete(b.arena, t.key)
		b.order = Splice(b.order, id)
		b.notifyLoaded()
		return nil
	})
}

// Load adds every state as a track and waits for all of them to decode. It
// adds nothing when the states do not fit. Decode failures are returned as a
// list beside a nil error.
func (b *MixBus) Load(ctx context.Context, states []model.TrackState) ([]*AudioLoadError, error) {
	err := b.do(func() error {
		if len(b.order)+len(states) > b.opts.MaxTracks {
			return ErrCapacityExceeded
		}
		for _, s := range states {
			if _, err := b.addTrack(SpecFromState(s)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := b.AwaitLoaded(ctx); err != nil {
		return nil, err
	}
	return b.Failures()
}

// AwaitLoaded blocks until no track is decoding.
func (b *MixBus) AwaitLoaded(ctx context.Context) error {
	ch := make(chan struct{})
	err := b.do(func() error {
		if !b.loading() {
			close(ch)
			return nil
		}
		b.loadWaiters = append(b.loadWaiters, ch)
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures lists the tracks that failed to load, by current id.
func (b *MixBus) Failures() ([]*AudioLoadError, error) {
	var out []*AudioLoadError
	err := b.do(func() error {
		for i, key := range b.order {
			t := b.arena[key]
			if t.state == LoadFailed {
				out = append(out, &AudioLoadError{TrackID: i, SourceRef: t.sourceRef, Err: t.loadErr})
			}
		}
		return nil
	})
	return out, err
}

// PlayAll starts every ready track together after the lead delay. From a
// stopped transport all tracks resume from the first ready track's offset.
func (b *MixBus) PlayAll() error {
	return b.do(func() error {
		now := b.sched.Now()
		lead := b.opts.LeadDelay
		ready := b.readyTracks()

		if b.transport.Playing() {
			offset := b.transport.Position(now) + lead.Seconds()
			for _, t := range ready {
				if !t.isPlaying {
					t.lastOffset = offset
					b.scheduleStart(t, lead)
				}
			}
			return nil
		}

		offset := b.transport.Elapsed()
		if len(ready) > 0 {
			offset = ready[0].lastOffset
		}
		b.transport.rebase(offset, now, 0)
		for _, t := range ready {
			t.halt()
			t.lastOffset = offset
			b.scheduleStart(t, lead)
		}
		b.transport.start(now, lead)
		logger.Debug("play all", logger.Int("tracks", len(ready)), logger.Float64("offset", offset))
		return nil
	})
}

// StopAll stops every track and resynchronizes their offsets to the transport.
func (b *MixBus) StopAll() error {
	return b.do(func() error {
		now := b.sched.Now()
		pos := b.transport.Position(now)
		b.transport.pause(now)
		for _, key := range b.order {
			t := b.arena[key]
			t.stop(now)
			t.lastOffset = pos
		}
		logger.Debug("stop all", logger.Float64("offset", pos))
		return nil
	})
}

// ToggleTrack starts or stops one track. The transport and other tracks are untouched.
func (b *MixBus) ToggleTrack(id int) error {
	return b.do(func() error {
		t, err := b.trackAt(id)
		if err != nil {
			return err
		}
		if !t.ready() {
			return ErrTrackNotReady
		}
		now := b.sched.Now()
		if t.isPlaying {
			t.stop(now)
			return nil
		}
		if b.transport.Playing() {
			t.lastOffset = b.transport.Position(now) + b.opts.LeadDelay.Seconds()
		}
		b.scheduleStart(t, b.opts.LeadDelay)
		return nil
	})
}

// SeekAll moves the shared timeline by delta seconds, bounded by the
// shortest ready track. The current position is taken within the shortest
// clip's loop, so a forward seek never lands behind it. Playing tracks
// restart after the seek guard delay.
func (b *MixBus) SeekAll(delta float64) error {
	return b.do(func() error {
		now := b.sched.Now()
		ready := b.readyTracks()

		shortest := math.Inf(1)
		for _, t := range ready {
			shortest = math.Min(shortest, t.duration())
		}
		pos := b.transport.Position(now)
		if shortest > 0 && !math.IsInf(shortest, 1) {
			pos = math.Mod(pos, shortest)
		}
		bound := math.Max(0, shortest-SeekEpsilon)
		target := math.Max(0, math.Min(pos+delta, bound))

		for _, t := range ready {
			b.seekTrack(t, target)
		}
		b.transport.rebase(target, now, b.opts.SeekGuardDelay)
		return nil
	})
}

// seekTrack moves one track. A playing track is halted and restarted after
// the seek guard so the old and new positions never sound together.
func (b *MixBus) seekTrack(t *track, offset float64) {
	t.lastOffset = t.clampOffset(offset)
	if t.isPlaying {
		t.halt()
		b.scheduleStart(t, b.opts.SeekGuardDelay)
	}
}

func (b *MixBus) withTrack(id int, fn func(t *track)) error {
	return b.do(func() error {
		t, err := b.trackAt(id)
		if err != nil {
			return err
		}
		fn(t)
		return nil
	})
}

// SetTrackGain sets a track gain in dB, clamped to the live range.
func (b *MixBus) SetTrackGain(id int, db float64) error {
	return b.withTrack(id, func(t *track) { t.setGain(db) })
}

// SetTrackPan sets a track pan, clamped to [-1, 1].
func (b *MixBus) SetTrackPan(id int, pan float64) error {
	return b.withTrack(id, func(t *track) { t.setPan(pan) })
}

// SetTrackMuted silences one track without touching its gain.
func (b *MixBus) SetTrackMuted(id int, muted bool) error {
	return b.withTrack(id, func(t *track) { t.setMuted(muted) })
}

// SetMasterGain sets the master gain in dB, clamped to the live range.
func (b *MixBus) SetMasterGain(db float64) error {
	return b.do(func() error {
		b.masterGainDB = gainpan.ClampGainDB(db)
		return nil
	})
}

// MuteAll silences the master stage. Track mute flags are left as they are.
func (b *MixBus) MuteAll() error {
	return b.do(func() error {
		b.masterMuted = true
		return nil
	})
}

// UnmuteAll clears the master mute.
func (b *MixBus) UnmuteAll() error {
	return b.do(func() error {
		b.masterMuted = false
		return nil
	})
}

// Frames delivers rendered 20ms stereo frames when Options.RenderFrames is
// set. Frames are dropped while no one reads. The channel closes with the bus.
func (b *MixBus) Frames() <-chan []int16 {
	return b.frames
}

// Waveform returns the most recent WaveformSize mono samples of the mix.
func (b *MixBus) Waveform() []float32 {
	return b.tap.Samples()
}
