package mixer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"soundscape/core/audio"
)

// fakeClock is a manual Scheduler. With ignoreStop set, Stop reports success
// but the callback still fires, like a timer that raced past cancellation.
type fakeClock struct {
	mu         sync.Mutex
	now        time.Time
	seq        int
	timers     []*fakeTimer
	ignoreStop bool
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.clock.ignoreStop {
		return true
	}
	was := !t.stopped
	t.stopped = true
	return was
}

// advance fires due timers in time order, then moves the clock to now+d.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].at.Equal(c.timers[j].at) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].at.Before(c.timers[j].at)
		})
		var next *fakeTimer
		for i, t := range c.timers {
			if t.at.After(end) {
				break
			}
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			next = t
			break
		}
		if next == nil {
			c.now = end
			c.mu.Unlock()
			return
		}
		c.now = next.at
		stopped := next.stopped
		c.mu.Unlock()
		if !stopped {
			next.f()
		}
	}
}

// step advances in 10ms increments and lets the bus drain after each one, so
// timers the bus re-arms while handling a callback are seen by the next step.
func step(t *testing.T, c *fakeClock, b *MixBus, d time.Duration) {
	t.Helper()
	for d > 0 {
		inc := 10 * time.Millisecond
		if d < inc {
			inc = d
		}
		c.advance(inc)
		if _, err := b.Snapshot(); err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		d -= inc
	}
}

var errDecode = errors.New("corrupt stream")

// fakeLoader serves constant-level clips keyed by ref.
type fakeLoader struct {
	durations map[string]float64
	level     int16
	calls     atomic.Int32
	gate      chan struct{} // when non-nil, Load waits on it
}

func (l *fakeLoader) Load(ctx context.Context, ref string) (*audio.Clip, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	d, ok := l.durations[ref]
	if !ok {
		return nil, errDecode
	}
	return constClip(ref, d, l.level), nil
}

func constClip(ref string, seconds float64, level int16) *audio.Clip {
	n := int(seconds * audio.SampleRate)
	s := make([]int16, n*audio.Channels)
	for i := range s {
		s[i] = level
	}
	return audio.NewClip(ref, s)
}

func newTestBus(t *testing.T, loader Loader) (*MixBus, *fakeClock, *SourcePool) {
	t.Helper()
	return newTestBusWith(t, loader, Options{})
}

// newTestBusWith runs a bus with opts on a fake clock.
func newTestBusWith(t *testing.T, loader Loader, opts Options) (*MixBus, *fakeClock, *SourcePool) {
	t.Helper()
	clock := newFakeClock()
	pool := NewSourcePool(loader)
	opts.Scheduler = clock
	b := NewMixBus(pool, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		b.Close()
	})
	return b, clock, pool
}

func mustAdd(t *testing.T, b *MixBus, ref string) int {
	t.Helper()
	id, err := b.AddTrack(TrackSpec{SourceRef: ref})
	if err != nil {
		t.Fatalf("AddTrack(%s): %v", ref, err)
	}
	return id
}

func mustSnapshot(t *testing.T, b *MixBus) Snapshot {
	t.Helper()
	s, err := b.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func awaitLoaded(t *testing.T, b *MixBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.AwaitLoaded(ctx); err != nil {
		t.Fatalf("AwaitLoaded: %v", err)
	}
}

// inspect runs fn on the bus loop.
func inspect(t *testing.T, b *MixBus, fn func()) {
	t.Helper()
	if err := b.do(func() error { fn(); return nil }); err != nil {
		t.Fatalf("inspect: %v", err)
	}
}

func ptr(v float64) *float64 { return &v }
