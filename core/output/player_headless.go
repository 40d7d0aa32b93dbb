//go:build headless

package output

import (
	"io"
	"sync"
)

// Player drains a frame stream without a sound device, so recording still
// works on machines without audio output.
type Player struct {
	reader *FrameReader

	mu      sync.Mutex
	started bool
}

func NewPlayer(frames <-chan []int16, rec *Recorder) (*Player, error) {
	return &Player{reader: NewFrameReader(frames, rec)}, nil
}

func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go io.Copy(io.Discard, p.reader)
}

func (p *Player) Close() error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return nil
}

func (p *Player) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
