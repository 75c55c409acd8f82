package config

import "time"

const sessionSecretVar = "SESSION_SECRET"

// MinSessionSecretLength is the shortest SESSION_SECRET accepted by Validate.
const MinSessionSecretLength = 32

type SecurityConfig interface {
	GetSessionSecret() string
	GetMaxSessionAge() time.Duration
	GetSessionCookieName() string
	GetStateCookieName() string
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetSessionSecret() string {
	return GetEnv(sessionSecretVar, "")
}

// GetMaxSessionAge caps how long a session record is kept when the provider
// does not report a refresh token lifetime.
func (Security) GetMaxSessionAge() time.Duration {
	return 30 * 24 * time.Hour
}

func (Security) GetSessionCookieName() string {
	return "sso.session-token"
}

// GetStateCookieName is the cookie that ties a pending sign-in to the browser
// that started it.
func (Security) GetStateCookieName() string {
	return "sso.state"
}
