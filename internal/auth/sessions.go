package auth

import (
	"sync"

	"github.com/google/uuid"
)

// Sessions maps opaque tokens to usernames. Tokens live until revoked or
// the process exits.
type Sessions struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{tokens: make(map[string]string)}
}

// Create issues a new token for username.
func (s *Sessions) Create(username string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = username
	s.mu.Unlock()
	return token
}

// Lookup resolves a token.
func (s *Sessions) Lookup(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.tokens[token]
	return u, ok
}

// Revoke invalidates a token. Unknown tokens are ignored.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
