package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/domain"
)

const (
	// maxSessionIDLength bounds caller-supplied session identifiers.
	maxSessionIDLength = 128

	// DefaultIdleTTL is how long a session may sit untouched before its
	// coordinator is evicted from memory.
	DefaultIdleTTL = 30 * time.Minute

	// DefaultSweepInterval is how often the manager scans for idle sessions.
	DefaultSweepInterval = time.Minute
)

// ManagerConfig holds session manager tunables.
type ManagerConfig struct {
	// Coordinator configures the coordinators the manager creates.
	Coordinator Config

	// IdleTTL is the inactivity window after which a coordinator is
	// evicted. Zero or negative disables eviction.
	IdleTTL time.Duration

	// SweepInterval is how often idle sessions are scanned for.
	SweepInterval time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

type managedSession struct {
	coordinator *Coordinator
	lastSeen    time.Time
}

// Manager owns the per-session coordinators: created on demand, evicted after
// idling. Eviction only drops the in-memory coordinator; persisted state
// survives in the store and the next request for the session rebuilds from it.
type Manager struct {
	cfg    ManagerConfig
	deps   Deps
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig, deps Deps) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	return &Manager{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		logger:   deps.Logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*managedSession),
	}, nil
}

// Get returns the coordinator for sessionID, creating and initializing one if
// the manager does not hold it yet.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Coordinator, error) {
	if sessionID == "" {
		return nil, domain.NewValidationError("session_id", "must not be empty")
	}
	if len(sessionID) > maxSessionIDLength {
		return nil, domain.NewValidationError("session_id", fmt.Sprintf("must be at most %d characters", maxSessionIDLength))
	}

	m.mu.Lock()
	if entry, ok := m.sessions[sessionID]; ok {
		entry.lastSeen = time.Now()
		m.mu.Unlock()
		return entry.coordinator, nil
	}
	m.mu.Unlock()

	// Initialization reads the store, so it runs outside the manager lock.
	coordinator, err := NewCoordinator(sessionID, m.cfg.Coordinator, m.deps)
	if err != nil {
		return nil, err
	}
	coordinator.Initialize(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Two requests can race to create the same session; the loser's
	// coordinator is dropped before anything observed it.
	if entry, ok := m.sessions[sessionID]; ok {
		entry.lastSeen = time.Now()
		return entry.coordinator, nil
	}

	m.sessions[sessionID] = &managedSession{coordinator: coordinator, lastSeen: time.Now()}
	m.deps.Metrics.RecordSessionStarted()
	m.logger.Info().Str("session_id", sessionID).Msg("session coordinator created")
	return coordinator, nil
}

// Evict removes the coordinator for sessionID from memory. Persisted state is
// untouched. Returns false when the manager does not hold the session.
func (m *Manager) Evict(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	m.deps.Metrics.RecordSessionEvicted()
	m.logger.Info().Str("session_id", sessionID).Msg("session coordinator evicted")
	return true
}

// Len returns the number of coordinators currently held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Run sweeps idle sessions until the context is cancelled. Returns
// immediately when eviction is disabled.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTTL <= 0 {
		m.logger.Info().Msg("idle session eviction disabled")
		return
	}

	m.logger.Info().
		Dur("idle_ttl", m.cfg.IdleTTL).
		Dur("sweep_interval", m.cfg.SweepInterval).
		Msg("starting idle session sweeper")

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("idle session sweeper stopped")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, entry := range m.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			m.deps.Metrics.RecordSessionEvicted()
			m.logger.Debug().Str("session_id", id).Msg("idle session evicted")
		}
	}
}
