// Package bot implements the conversational task-management engine.
package bot

import (
	"sync"

	"github.com/dcervantes/sprintbot/internal/domain"
)

// AuthState tracks where a conversation is in the login flow.
type AuthState int

const (
	// StateUnauthenticated means no login attempt has started.
	StateUnauthenticated AuthState = iota
	// StateAwaitingUsername means the next message is treated as a username.
	StateAwaitingUsername
	// StateAwaitingPassword means the next message is treated as a password.
	StateAwaitingPassword
	// StateAuthenticated means the conversation has a logged-in user.
	StateAuthenticated
)

// Session holds per-conversation engine state. A session is mutated only while
// handling a single inbound message; the transport delivers messages for one
// conversation serially, so no per-session locking is needed.
type Session struct {
	ConversationID      string
	AuthState           AuthState
	User                *domain.User
	PendingUsername     string
	Proposal            *TaskProposal
	AwaitingDescription bool
}

// resetAuth clears all authenticated state, returning the session to the
// start of the login flow. The record itself is kept for reuse.
func (s *Session) resetAuth() {
	s.AuthState = StateUnauthenticated
	s.User = nil
	s.PendingUsername = ""
	s.Proposal = nil
	s.AwaitingDescription = false
}

// SessionStore maps conversation ids to sessions. It is safe for concurrent
// use across conversations; its only job is concurrent-map safety.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for a conversation, creating a default one if absent.
func (s *SessionStore) Get(conversationID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[conversationID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the write lock in case another conversation-creating
	// request won the race.
	if sess, ok := s.sessions[conversationID]; ok {
		return sess
	}
	sess = &Session{
		ConversationID: conversationID,
		AuthState:      StateUnauthenticated,
	}
	s.sessions[conversationID] = sess
	return sess
}

// Put stores a session under a conversation id.
func (s *SessionStore) Put(conversationID string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[conversationID] = sess
}

// Len returns the number of known conversations.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
