// Package stream carries a live mix to remote listeners: PCM fan-out, an HTTP
// MP3 monitor, a WebRTC Opus monitor, and the WebSocket control feed.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultListenerBuffer holds about three seconds of 20ms frames.
const DefaultListenerBuffer = 150

// Listener receives frames from a Broadcaster.
type Listener struct {
	C       chan []int16
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Done is closed when the listener is unsubscribed or the broadcast ends.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped counts frames skipped because the listener fell behind.
func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *Listener) stop() {
	l.once.Do(func() { close(l.done) })
}

// Broadcaster fans frames from one mix out to any number of listeners. A
// slow listener loses frames; it never stalls the mix or other listeners.
type Broadcaster struct {
	buffer int

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	ended     bool
}

// NewBroadcaster creates a Broadcaster whose listeners buffer this many
// frames. A non-positive buffer means DefaultListenerBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultListenerBuffer
	}
	return &Broadcaster{buffer: buffer, listeners: make(map[*Listener]struct{})}
}

// Subscribe registers a listener. After the broadcast has ended the returned
// listener is already done.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{C: make(chan []int16, b.buffer), done: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		l.stop()
		return l
	}
	b.listeners[l] = struct{}{}
	return l
}

// Unsubscribe removes l. It is safe to call more than once.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.stop()
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run forwards frames until ctx is done or frames is closed, then ends the
// broadcast for every listener.
func (b *Broadcaster) Run(ctx context.Context, frames <-chan []int16) {
	defer b.end()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}

func (b *Broadcaster) end() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
	for l := range b.listeners {
		l.stop()
		delete(b.listeners, l)
	}
}
