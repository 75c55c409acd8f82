package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
)

type storedToken struct {
	token     *Token
	expiresAt time.Time
}

// InMemoryRepo is an in-memory implementation of Repo, suitable for a single
// instance deployment and for tests.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]storedToken // sessionID -> record
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]storedToken),
	}
}

// Upsert creates or updates a session record
func (r *InMemoryRepo) Upsert(_ context.Context, sessionID string, tok *Token, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if tok == nil {
		return fmt.Errorf("token is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to avoid external modifications
	r.sessions[sessionID] = storedToken{
		token:     tok.Clone(),
		expiresAt: NowTimeFunc().Add(ttl),
	}
	return nil
}

// Get retrieves a session record by id
func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (*Token, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}

	r.mu.RLock()
	stored, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return nil, ssoerrors.ErrSessionNotFound
	}
	if !NowTimeFunc().Before(stored.expiresAt) {
		_ = r.Delete(context.Background(), sessionID)
		return nil, ssoerrors.ErrSessionNotFound
	}
	return stored.token.Clone(), nil
}

// Delete removes a session record
func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}
