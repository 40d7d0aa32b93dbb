package mixer

import (
	"context"
	"sync"

	"soundscape/core/audio"
	"soundscape/logger"
)

// Loader resolves a source reference and decodes it.
type Loader interface {
	Load(ctx context.Context, sourceRef string) (*audio.Clip, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, sourceRef string) (*audio.Clip, error)

func (f LoaderFunc) Load(ctx context.Context, sourceRef string) (*audio.Clip, error) {
	return f(ctx, sourceRef)
}

// Source is one reference to a shared decoded clip. Call SourcePool.Release
// exactly once when done with it.
type Source struct {
	entry *poolEntry
}

func (s *Source) Ref() string       { return s.entry.ref }
func (s *Source) Clip() *audio.Clip { return s.entry.clip }
func (s *Source) Peak() float64     { return s.entry.peak }

// Duration returns the clip length in seconds.
func (s *Source) Duration() float64 { return s.entry.clip.Duration() }

type poolEntry struct {
	ref  string
	refs int
	done chan struct{}
	clip *audio.Clip
	peak float64
	err  error
}

// SourcePool shares decoded clips between every track referencing the same
// source. A source is decoded at most once while any track holds it and is
// dropped when the last holder releases it. Failed decodes are not kept.
type SourcePool struct {
	loader Loader

	mu      sync.Mutex
	entries map[string]*poolEntry
}

// NewSourcePool creates a pool backed by loader.
func NewSourcePool(loader Loader) *SourcePool {
	return &SourcePool{
		loader:  loader,
		entries: make(map[string]*poolEntry),
	}
}

// Acquire returns a reference to the decoded clip, decoding it if no one
// holds it yet. Concurrent acquirers of the same ref wait on one decode.
func (p *SourcePool) Acquire(ctx context.Context, ref string) (*Source, error) {
	p.mu.Lock()
	e, ok := p.entries[ref]
	if ok {
		e.refs++
	} else {
		e = &poolEntry{ref: ref, refs: 1, done: make(chan struct{})}
		p.entries[ref] = e
		go p.decode(e)
	}
	p.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		p.release(e)
		return nil, ctx.Err()
	}

	if e.err != nil {
		p.release(e)
		return nil, e.err
	}
	return &Source{entry: e}, nil
}

// decode runs detached from any caller's context so one cancelled acquirer
// does not fail the others.
func (p *SourcePool) decode(e *poolEntry) {
	clip, err := p.loader.Load(context.Background(), e.ref)
	if err == nil {
		e.clip = clip
		e.peak = clip.Peak()
		logger.Debug("source decoded",
			logger.String("ref", e.ref),
			logger.Float64("duration", clip.Duration()))
	} else {
		e.err = err
		p.mu.Lock()
		if p.entries[e.ref] == e {
			delete(p.entries, e.ref)
		}
		p.mu.Unlock()
	}
	close(e.done)
}

// Release drops one reference.
func (p *SourcePool) Release(s *Source) {
	if s == nil {
		return
	}
	p.release(s.entry)
}

func (p *SourcePool) release(e *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.refs--
	if e.refs <= 0 && p.entries[e.ref] == e {
		delete(p.entries, e.ref)
		logger.Debug("source released", logger.String("ref", e.ref))
	}
}

// Len reports how many distinct sources are held.
func (p *SourcePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
