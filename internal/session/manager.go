package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/locale"
	"github.com/joeblew999/geoview/internal/metrics"
	"github.com/joeblew999/geoview/internal/search"
	"github.com/joeblew999/geoview/internal/store"
	"github.com/joeblew999/geoview/internal/table"
	"github.com/joeblew999/geoview/internal/templates"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// DefaultIdleTimeout closes sessions nobody touched for this long.
const DefaultIdleTimeout = 30 * time.Minute

// Config holds what every session shares.
type Config struct {
	Catalog     *catalog.Catalog
	Search      *search.Index
	Highlight   catalog.SearchConfig
	Bookmarks   []catalog.Bookmark
	AccessToken string
	Locale      *locale.Locale
	Store       store.Store
	Fetcher     table.Fetcher
	Renderer    *templates.Renderer
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	// Headless acknowledges style loads without a browser.
	Headless    bool
	IdleTimeout time.Duration
}

// Manager creates, finds and expires sessions.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager validates cfg and returns an empty manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Catalog == nil || cfg.Catalog.Len() == 0 {
		return nil, errors.New("session manager needs a non-empty catalog")
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.Search == nil {
		ix, err := search.Build(nil)
		if err != nil {
			return nil, err
		}
		cfg.Search = ix
	}
	if cfg.Locale == nil {
		cfg.Locale = locale.New("")
	}
	if cfg.Renderer == nil {
		r, err := templates.Default()
		if err != nil {
			return nil, err
		}
		cfg.Renderer = r
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = table.NewHTTPFetcher("")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Manager{cfg: cfg, sessions: map[string]*Session{}}, nil
}

// Create starts a session. An empty id gets a random one; an id that is
// already live returns the existing session so a reload resumes its view.
func (m *Manager) Create(ctx context.Context, id, acceptLanguage string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if s, err := m.Get(id); err == nil {
		return s, nil
	}

	s, err := newSession(ctx, id, &m.cfg, acceptLanguage)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if prev, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		s.Close()
		return prev, nil
	}
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.cfg.Metrics.SetSessions(n)
	m.cfg.Logger.Info().Str("session", id).Msg("session created")
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Close stops and forgets one session. Its persisted view stays in the
// store.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Close()
	m.cfg.Metrics.SetSessions(n)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle since before now minus the idle timeout and
// returns how many it closed.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)
	var idle []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) && s.bus.Len() == 0 {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		if m.Close(id) == nil {
			m.cfg.Logger.Info().Str("session", id).Msg("idle session closed")
		}
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then shuts every session
// down.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case now := <-t.C:
			m.Sweep(now)
		}
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
	m.cfg.Metrics.SetSessions(0)
}

// Catalog returns the shared map catalog.
func (m *Manager) Catalog() *catalog.Catalog { return m.cfg.Catalog }

// Bookmarks returns the configured bookmarks.
func (m *Manager) Bookmarks() []catalog.Bookmark { return m.cfg.Bookmarks }

// Search returns the shared search index.
func (m *Manager) Search() *search.Index { return m.cfg.Search }
