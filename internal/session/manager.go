package session

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Session is one open websocket connection to a room
type Session struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	UserID       string    `json:"userId,omitempty"`
	UserAgent    string    `json:"userAgent"`
	IPAddress    string    `json:"ipAddress"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Manager tracks which listeners are connected to which rooms. A session
// that shows no activity for the timeout is considered gone.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]*Session
	activityTimeout time.Duration
	clock           clock.Clock
}

// NewManager creates a session manager
func NewManager(activityTimeout time.Duration, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		sessions:        make(map[string]*Session),
		activityTimeout: activityTimeout,
		clock:           clk,
	}
}

// Open registers a new connection to roomID
func (m *Manager) Open(roomID, userID, userAgent, ipAddress string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	s := &Session{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		UserID:       userID,
		UserAgent:    userAgent,
		IPAddress:    ipAddress,
		ConnectedAt:  now,
		LastActivity: now,
	}
	m.sessions[s.ID] = s
	return *s
}

// Touch records activity on a session
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivity = m.clock.Now()
	}
}

// Close removes a session
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Get returns a copy of the session
func (m *Manager) Get(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok || !m.isActiveLocked(s) {
		return Session{}, false
	}
	return *s, true
}

// InRoom returns the active sessions of roomID, oldest first
func (m *Manager) InRoom(roomID string) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Session
	for _, s := range m.sessions {
		if s.RoomID == roomID && m.isActiveLocked(s) {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.sessions {
		if m.isActiveLocked(s) {
			n++
		}
	}
	return n
}

// Cleanup removes expired sessions and returns them
func (m *Manager) Cleanup() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Session
	for id, s := range m.sessions {
		if !m.isActiveLocked(s) {
			expired = append(expired, *s)
			delete(m.sessions, id)
		}
	}
	return expired
}

// isActiveLocked must be called with the lock held
func (m *Manager) isActiveLocked(s *Session) bool {
	return m.clock.Since(s.LastActivity) < m.activityTimeout
}
