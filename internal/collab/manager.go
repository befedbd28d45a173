package collab

import (
	"sync"
	"time"

	"github.com/serroba/livedoc/internal/channel"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/relay"
)

// Manager runs several in-process sessions against one relay, keyed by
// participant ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// Shared dependencies
	relay      *relay.Relay
	scheduler  relay.Scheduler
	setupDelay time.Duration
}

// ManagerConfig holds configuration for creating a manager.
type ManagerConfig struct {
	Relay      *relay.Relay
	Scheduler  relay.Scheduler
	SetupDelay time.Duration
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		relay:      cfg.Relay,
		scheduler:  cfg.Scheduler,
		setupDelay: cfg.SetupDelay,
	}
}

// Join returns the participant's session, creating and starting one on a
// local channel if needed.
func (m *Manager) Join(docID string, p protocol.Participant) (*Session, error) {
	// Try read lock first
	m.mu.RLock()
	session, exists := m.sessions[p.ID]
	m.mu.RUnlock()

	if exists {
		return session, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if session, exists = m.sessions[p.ID]; exists {
		return session, nil
	}

	ch := channel.NewLocal(channel.LocalConfig{
		Relay:      m.relay,
		Room:       docID,
		SetupDelay: m.setupDelay,
		Scheduler:  m.scheduler,
	})

	session = NewSession(SessionConfig{
		DocumentID:  docID,
		Participant: p,
		Channel:     ch,
	})

	if err := session.Start(); err != nil {
		return nil, err
	}

	m.sessions[p.ID] = session

	return session, nil
}

// Session returns a participant's session or nil if not found.
func (m *Manager) Session(participantID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[participantID]
}

// Sessions returns all sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	return sessions
}

// Leave makes a participant leave and forgets its session.
func (m *Manager) Leave(participantID string) {
	m.mu.Lock()
	session, exists := m.sessions[participantID]

	if !exists {
		m.mu.Unlock()

		return
	}

	delete(m.sessions, participantID)
	m.mu.Unlock()

	session.Leave()
}

// CloseAll makes every participant leave.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Leave()
	}
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
