package mixer

import (
	"math"
	"time"
)

// TickInterval is the transport advance period.
const TickInterval = time.Second

// armFunc schedules a transport tick carrying token after d.
type armFunc func(d time.Duration, token uint64) Timer

// TransportClock is the shared timeline of a bus. It advances one whole
// second per tick while playing and is rebased on seek and pause. It holds
// at most one live tick timer; a tick whose token is not current is ignored.
type TransportClock struct {
	elapsed  float64
	playing  bool
	lastTick time.Time // instant elapsed was last exact
	token    uint64
	timer    Timer
	arm      armFunc
}

func newTransportClock(arm armFunc) *TransportClock {
	return &TransportClock{arm: arm}
}

// ElapsedSeconds is the display position, whole seconds.
func (c *TransportClock) ElapsedSeconds() int {
	return int(math.Floor(c.elapsed))
}

// Elapsed is the stored position, without the partial second since the last tick.
func (c *TransportClock) Elapsed() float64 {
	return c.elapsed
}

// Playing reports whether the clock is advancing.
func (c *TransportClock) Playing() bool {
	return c.playing
}

// Position is the exact timeline position at now.
func (c *TransportClock) Position(now time.Time) float64 {
	if !c.playing {
		return c.elapsed
	}
	d := now.Sub(c.lastTick).Seconds()
	if d < 0 {
		d = 0 // still inside the lead delay
	}
	return c.elapsed + d
}

// start begins advancing from the current elapsed value. The clock anchors at
// now+lead, when the scheduled voices actually sound.
func (c *TransportClock) start(now time.Time, lead time.Duration) {
	c.cancel()
	c.playing = true
	c.lastTick = now.Add(lead)
	c.schedule(lead + TickInterval)
}

// pause stops advancing and keeps the exact position.
func (c *TransportClock) pause(now time.Time) {
	if !c.playing {
		return
	}
	c.elapsed = c.Position(now)
	c.playing = false
	c.cancel()
}

// rebase moves the timeline to offset. A playing clock re-anchors after delay.
func (c *TransportClock) rebase(offset float64, now time.Time, delay time.Duration) {
	if offset < 0 {
		offset = 0
	}
	c.elapsed = offset
	if c.playing {
		c.cancel()
		c.lastTick = now.Add(delay)
		c.schedule(delay + TickInterval)
	}
}

// tick advances one second. It reports false for a stale or paused tick.
// The next tick is aimed at the whole-second boundary so delivery latency does not accumulate.
func (c *TransportClock) tick(token uint64, now time.Time) bool {
	if !c.playing || token != c.token {
		return false
	}
	c.elapsed++
	c.lastTick = c.lastTick.Add(TickInterval)
	next := c.lastTick.Add(TickInterval).Sub(now)
	if next < 0 {
		next = 0
	}
	c.schedule(next)
	return true
}

func (c *TransportClock) schedule(d time.Duration) {
	c.token++
	if c.arm != nil {
		c.timer = c.arm(d, c.token)
	}
}

func (c *TransportClock) cancel() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.token++
}
