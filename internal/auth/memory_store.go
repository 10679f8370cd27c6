package auth

import (
	"context"
	"sync"
	"time"
)

type memorySession struct {
	userID    string
	expiresAt time.Time
}

// MemorySessionStore holds sessions in process memory, keyed by token.
// Sessions vanish on restart, which suits single-node deployments where the
// catalog is file-backed anyway. The zero value is ready to use.
type MemorySessionStore struct {
	mu      sync.Mutex
	byToken map[string]memorySession
}

// NewMemorySessionStore returns an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Save(token, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byToken == nil {
		s.byToken = make(map[string]memorySession)
	}
	s.byToken[token] = memorySession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemorySessionStore) Get(token string) (SessionRecord, bool, error) {
	s.mu.Lock()
	session, ok := s.byToken[token]
	s.mu.Unlock()
	if !ok {
		return SessionRecord{}, false, nil
	}
	return SessionRecord{Token: token, UserID: session.userID, ExpiresAt: session.expiresAt}, true, nil
}

func (s *MemorySessionStore) Delete(token string) error {
	s.mu.Lock()
	delete(s.byToken, token)
	s.mu.Unlock()
	return nil
}

// PurgeExpired drops every session whose expiry is at or before now.
func (s *MemorySessionStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for token, session := range s.byToken {
		if !session.expiresAt.After(now) {
			delete(s.byToken, token)
		}
	}
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

// Ping reports success; there is no backing service to reach.
func (s *MemorySessionStore) Ping(context.Context) error {
	return nil
}
