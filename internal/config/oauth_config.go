package config

import "time"

type OAuthConfig interface {
	GetProviderID() string
	GetScopes() []string
	GetAuthFlowTimeout() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetProviderID is the provider identifier stamped on every session record.
func (OAuth) GetProviderID() string {
	return "keycloak"
}

func (OAuth) GetScopes() []string {
	return []string{"openid", "profile", "email"}
}

// GetAuthFlowTimeout is how long a sign-in attempt (state, nonce, PKCE verifier)
// stays valid between the redirect to the provider and the callback.
func (OAuth) GetAuthFlowTimeout() time.Duration {
	return 10 * time.Minute
}
