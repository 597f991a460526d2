// Package testsupport holds shared fakes for exercising failure paths that the
// real backends cannot produce on demand.
package testsupport

import (
	"context"
	"sync"
	"time"

	"studyhub/internal/auth"
)

// SessionStoreStub is an in-memory auth.SessionStore implementation intended
// for tests. It allows seeding records with custom expirations, inspecting
// stored tokens, and injecting errors on save or lookup.
type SessionStoreStub struct {
	mu       sync.RWMutex
	sessions map[string]auth.SessionRecord

	// SaveErr and GetErr, when set, are returned by Save and Get.
	SaveErr error
	GetErr  error
}

// NewSessionStoreStub constructs a SessionStoreStub with empty state.
func NewSessionStoreStub() *SessionStoreStub {
	return &SessionStoreStub{sessions: make(map[string]auth.SessionRecord)}
}

// Save records the session details for the provided token.
func (s *SessionStoreStub) Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	s.sessions[token] = auth.SessionRecord{
		Token:             token,
		UserID:            userID,
		ExpiresAt:         expiresAt.UTC(),
		AbsoluteExpiresAt: absoluteExpiresAt.UTC(),
	}
	s.mu.Unlock()
	return nil
}

// Get retrieves the session record for the provided token.
func (s *SessionStoreStub) Get(token string) (auth.SessionRecord, bool, error) {
	if s.GetErr != nil {
		return auth.SessionRecord{}, false, s.GetErr
	}
	s.mu.RLock()
	record, ok := s.sessions[token]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete removes the session token from the store.
func (s *SessionStoreStub) Delete(token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes sessions that have passed their expiration.
func (s *SessionStoreStub) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for token, record := range s.sessions {
		if now.After(record.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()
	return nil
}

// Len reports how many session records the stub currently holds.
func (s *SessionStoreStub) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Ping reports success for compatibility with SessionManager health checks.
func (s *SessionStoreStub) Ping(context.Context) error { return nil }
