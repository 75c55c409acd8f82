package authflowrepo

import "time"

// AuthFlowState is what the sign-in route remembers about an authorization
// request until the provider calls back with the matching state.
type AuthFlowState struct {
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	// Take returns the state and removes it in one step, so a state can only
	// ever complete one callback.
	Take(state string) (*AuthFlowState, error)
}
