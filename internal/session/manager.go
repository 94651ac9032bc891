package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/adi-253/talkie-chat/internal/models"
)

var ErrNotOpen = errors.New("session is not open")

// ScopeResolver builds a scope from its kind and id.
type ScopeResolver interface {
	Resolve(ctx context.Context, kind models.ScopeKind, id string) (models.Scope, error)
}

// Factory opens a session for a resolved scope.
type Factory func(ctx context.Context, scope models.Scope) (*Session, error)

// Manager keeps the open sessions of the daemon, one per scope.
type Manager struct {
	resolver ScopeResolver
	open     Factory
	onOpen   func(*Session)
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. onOpen, if set, runs for every new session.
func NewManager(resolver ScopeResolver, open Factory, onOpen func(*Session), logger *slog.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		open:     open,
		onOpen:   onOpen,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Key is the session key for a scope kind and id.
func Key(kind models.ScopeKind, id string) string {
	return models.Scope{Kind: kind, ID: id}.Topic()
}

// Open returns the session for the scope, opening it and loading its
// history if needed. A failed history load closes the new session.
func (m *Manager) Open(ctx context.Context, kind models.ScopeKind, id string) (*Session, error) {
	scope, err := m.resolver.Resolve(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[scope.Topic()]; ok {
		return s, nil
	}

	s, err := m.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := s.Store.LoadHistory(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("open %s: %w", scope.Topic(), err)
	}
	m.sessions[s.Key()] = s
	m.logger.Info("session opened", "scope", s.Key())

	if m.onOpen != nil {
		m.onOpen(s)
	}
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, key)
	}
	return s, nil
}

// Keys lists the open sessions.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes one session.
func (m *Manager) Close(key string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, key)
	}
	s.Close()
	m.logger.Info("session closed", "scope", key)
	return nil
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// IsOpen reports whether a session is open for key.
func (m *Manager) IsOpen(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}
