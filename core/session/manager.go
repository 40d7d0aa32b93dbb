// Package session keeps the live mixing sessions of the server: one MixBus
// per session id, each with its own monitor broadcaster.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"soundscape/core/audio"
	"soundscape/core/mixer"
	"soundscape/core/stream"
	"soundscape/logger"
	"soundscape/model"

	"github.com/google/uuid"
)

// DefaultMaxSessions bounds concurrently open sessions.
const DefaultMaxSessions = 32

var (
	ErrTooManySessions = errors.New("session: too many open sessions")
	ErrNotFound        = errors.New("session: not found")
	ErrForbidden       = errors.New("session: owned by another user")
)

// Resolver turns a source reference into a local file path.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// NewLoader resolves then decodes each source.
func NewLoader(resolver Resolver, decoder *audio.Decoder) mixer.Loader {
	return mixer.LoaderFunc(func(ctx context.Context, ref string) (*audio.Clip, error) {
		path, err := resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		return decoder.Decode(ctx, path)
	})
}

// Session is one live mix.
type Session struct {
	ID          string
	OwnerID     int64
	Bus         *mixer.MixBus
	Broadcaster *stream.Broadcaster
	CreatedAt   time.Time

	cancel context.CancelFunc
}

func (s *Session) close() {
	s.Bus.Close()
	s.cancel()
}

// Manager 会话管理器
type Manager struct {
	pool        *mixer.SourcePool
	opts        mixer.Options
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions share one source pool, so a
// clip open in several sessions is decoded once.
func NewManager(loader mixer.Loader, opts mixer.Options, maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	opts.RenderFrames = true
	return &Manager{
		pool:        mixer.NewSourcePool(loader),
		opts:        opts,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Create opens a session, loads states into it and waits for them to decode.
// Tracks that failed to decode are returned beside the session.
func (m *Manager) Create(ctx context.Context, ownerID int64, states []model.TrackState) (*Session, []*mixer.AudioLoadError, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, nil, ErrTooManySessions
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Bus:         mixer.NewMixBus(m.pool, m.opts),
		Broadcaster: stream.NewBroadcaster(0),
		CreatedAt:   time.Now(),
		cancel:      cancel,
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go s.Bus.Run(runCtx)
	go s.Broadcaster.Run(runCtx, s.Bus.Frames())
	go func() {
		<-s.Bus.Done()
		m.remove(s.ID)
	}()

	var failures []*mixer.AudioLoadError
	if len(states) > 0 {
		var err error
		failures, err = s.Bus.Load(ctx, states)
		if err != nil {
			m.remove(s.ID)
			s.close()
			return nil, nil, fmt.Errorf("加载会话音轨失败: %w", err)
		}
	}

	logger.Info("混音会话已创建",
		logger.String("sessionId", s.ID),
		logger.Int64("ownerId", ownerID),
		logger.Int("tracks", len(states)),
		logger.Int("failed", len(failures)))
	return s, failures, nil
}

// Get returns the session if it exists and belongs to ownerID.
func (m *Manager) Get(id string, ownerID int64) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return s, nil
}

// Close shuts a session down.
func (m *Manager) Close(id string, ownerID int64) error {
	s, err := m.Get(id, ownerID)
	if err != nil {
		return err
	}
	m.remove(id)
	s.close()
	logger.Info("混音会话已关闭", logger.String("sessionId", id))
	return nil
}

// CloseAll shuts every session down.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	if len(all) > 0 {
		logger.Info("已关闭全部混音会话", logger.Int("count", len(all)))
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Pool exposes the shared source pool.
func (m *Manager) Pool() *mixer.SourcePool {
	return m.pool
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
