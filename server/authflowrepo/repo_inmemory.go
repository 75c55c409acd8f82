package authflowrepo

import (
	"errors"
	"sync"
	"time"

	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/session"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*AuthFlowState
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory auth flow state repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]*AuthFlowState),
	}
}

// Upsert stores or updates an auth flow state. Expired states are swept on
// every write so abandoned sign-ins do not accumulate.
func (r *InMemoryRepo) Upsert(state string, authState *AuthFlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := session.NowTimeFunc()
	for k, v := range r.states {
		if expired(v, now) {
			delete(r.states, k)
		}
	}

	// Create a copy to prevent external modifications
	stored := *authState
	r.states[state] = &stored
	return nil
}

// Take retrieves and removes an auth flow state. Unknown and expired states
// return ErrInvalidState; an expired state is removed all the same.
func (r *InMemoryRepo) Take(state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	authState, exists := r.states[state]
	if !exists {
		return nil, ssoerrors.ErrInvalidState
	}
	delete(r.states, state)
	if expired(authState, session.NowTimeFunc()) {
		return nil, ssoerrors.ErrInvalidState
	}
	return authState, nil
}

func expired(s *AuthFlowState, now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
