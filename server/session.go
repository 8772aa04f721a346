package server

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"

	"z4-server/protocol"
	"z4-server/sim"
)

const (
	maxSessions = 100

	ErrTypeTooManySessions = "server_too_many_sessions"
)

// Session is a game world that players can join.
type Session struct {
	ID        string
	Name      string
	Game      *sim.Game
	CreatedAt time.Time

	cancel context.CancelFunc
}

// SessionManager handles creation and lookup of sessions.
type SessionManager struct {
	conf sim.Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a SessionManager whose worlds use conf.
func NewSessionManager(conf sim.Config) *SessionManager {
	return &SessionManager{
		conf:     conf,
		sessions: make(map[string]*Session),
	}
}

// CreateSession creates a session and starts its game loop.
func (sm *SessionManager) CreateSession(name string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= maxSessions {
		return nil, errors.New("too many active sessions").
			WithType(ErrTypeTooManySessions).
			WithTag("sessions", len(sm.sessions))
	}

	game, err := sim.NewGame(sm.conf)
	if err != nil {
		return nil, errors.New("creating game failed").Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Game:      game,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	sm.sessions[sess.ID] = sess
	go game.Run(ctx)

	instrumentSessionCreated()
	logs.WithTag("session_id", sess.ID).
		WithTag("name", name).
		Info("session created")
	return sess, nil
}

// GetSession returns a session by ID.
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Join adds a player to a session. A session is never closed while a player
// joins it.
func (sm *SessionManager) Join(sessionID, name, team string, client sim.Broadcaster) (*Session, *sim.Object, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, ok := sm.sessions[sessionID]
	if !ok {
		return nil, nil, errors.New("session not found").
			WithType(ErrTypeSessionNotFound).
			WithTag("session_id", sessionID)
	}

	player, err := sess.Game.AddPlayer(name, team, client)
	if err != nil {
		return nil, nil, err
	}
	return sess, player, nil
}

// RemovePlayer removes a player from a session and closes the session once
// nobody plays in it.
func (sm *SessionManager) RemovePlayer(sessionID, playerID string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	sess.Game.RemovePlayer(playerID)

	empty := sess.Game.PlayerCount() == 0
	if empty {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()

	if empty {
		sm.stop(sess)
	}
}

// Reap closes the sessions nobody joined within idle.
func (sm *SessionManager) Reap(idle time.Duration) int {
	sm.mu.Lock()
	var stale []*Session
	for id, sess := range sm.sessions {
		if time.Since(sess.CreatedAt) > idle && sess.Game.PlayerCount() == 0 {
			stale = append(stale, sess)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, sess := range stale {
		sm.stop(sess)
	}
	return len(stale)
}

// ListSessions returns info about all active sessions.
func (sm *SessionManager) ListSessions() []protocol.SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]protocol.SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, protocol.SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Players: sess.Game.PlayerCount(),
			Objects: sess.Game.ObjectCount(),
		})
	}
	return list
}

// DebugInfo describes the world index of every session.
func (sm *SessionManager) DebugInfo() map[string]sim.DebugInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	infos := make(map[string]sim.DebugInfo, len(sm.sessions))
	for id, sess := range sm.sessions {
		infos[id] = sess.Game.Debug()
	}
	return infos
}

// Close stops every session.
func (sm *SessionManager) Close() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for id, sess := range sm.sessions {
		sessions = append(sessions, sess)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	for _, sess := range sessions {
		sm.stop(sess)
	}
}

func (sm *SessionManager) stop(sess *Session) {
	sess.cancel()
	sess.Game.Close()

	instrumentSessionClosed()
	logs.WithTag("session_id", sess.ID).Info("session closed")
}
