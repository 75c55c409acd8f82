package oauth2

import "time"

// TokenResponse represents a successful response from the identity provider's
// token endpoint (RFC 6749 section 5.1) including the Keycloak extensions.
// Returned for both the authorization_code and refresh_token grants.
type TokenResponse struct {
	// AccessToken is the bearer token used to call protected resources.
	// Lifespan: Short-lived (Keycloak default 5 minutes)
	AccessToken string `json:"access_token"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// ExpiresAt is an absolute expiry (unix seconds). Keycloak does not send it,
	// but some proxies in front of it do; when present it wins over ExpiresIn.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// RefreshExpiresIn is the lifetime in seconds of the refresh token.
	// Keycloak extension; 0 means the provider did not report one.
	RefreshExpiresIn int64 `json:"refresh_expires_in,omitempty"`

	// RefreshToken is the credential used to obtain new access tokens.
	// Omitted by the provider when it does not rotate refresh tokens.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// TokenType is "Bearer" for Keycloak.
	TokenType string `json:"token_type,omitempty"`

	// IdToken is the OpenID Connect ID token. Only present when the "openid"
	// scope was granted.
	IdToken *string `json:"id_token,omitempty"`

	// NotBeforePolicy is the Keycloak realm not-before revocation marker.
	NotBeforePolicy int64 `json:"not-before-policy,omitempty"`

	// SessionState is the Keycloak SSO session id.
	SessionState string `json:"session_state,omitempty"`

	// Scope is the space-separated list of granted scopes.
	Scope string `json:"scope,omitempty"`
}

// AccessTokenExpiry returns when the access token expires, measured from
// issuedAt. A zero time means the provider reported no lifetime.
func (r *TokenResponse) AccessTokenExpiry(issuedAt time.Time) time.Time {
	switch {
	case r.ExpiresAt > 0:
		return time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		return issuedAt.Add(time.Duration(r.ExpiresIn) * time.Second)
	default:
		return time.Time{}
	}
}

// RefreshTokenExpiry returns when the refresh token expires, measured from
// issuedAt. A zero time means the provider reported no lifetime.
func (r *TokenResponse) RefreshTokenExpiry(issuedAt time.Time) time.Time {
	if r.RefreshExpiresIn <= 0 {
		return time.Time{}
	}
	return issuedAt.Add(time.Duration(r.RefreshExpiresIn) * time.Second)
}
