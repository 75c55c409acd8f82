package session

import "time"

// Error codes carried on a Token when its lifecycle has failed. They are
// surfaced to the client through the serialized session.
const (
	ErrorRefreshAccessToken = "RefreshAccessTokenError"
	ErrorRefreshExpired     = "RefreshExpired"
	ErrorLogout             = "LogoutError"
)

const (
	descriptionRefreshFailed  = "Failed to refresh access token"
	descriptionRefreshExpired = "Refresh token expired"
)

// User is the read-only profile projection fetched from the identity provider
// and attached to the session for display purposes.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"userName,omitempty"`
}

// Token is the session token record. It is created on a successful provider
// sign-in and replaced on every refresh; it is only ever persisted through a
// Repo.
type Token struct {
	Provider            string    `json:"provider"`
	AccessToken         string    `json:"accessToken"`
	RefreshToken        string    `json:"refreshToken"`
	IDToken             string    `json:"idToken"`
	AccessTokenExpires  time.Time `json:"accessTokenExpires"`
	RefreshTokenExpires time.Time `json:"refreshTokenExpires"`
	Error               string    `json:"error,omitempty"`
	ErrorDescription    string    `json:"errorDescription,omitempty"`
	User                *User     `json:"user,omitempty"`
}

// AccessTokenValid reports whether the access token may still authorize a
// request at now.
func (t *Token) AccessTokenValid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.AccessTokenExpires)
}

// RefreshTokenExpired reports whether the refresh token can no longer be used
// at now. A record without a known refresh expiry is treated as expired.
func (t *Token) RefreshTokenExpired(now time.Time) bool {
	if t == nil || t.RefreshTokenExpires.IsZero() {
		return true
	}
	return !now.Before(t.RefreshTokenExpires)
}

func (t *Token) HasError() bool {
	return t != nil && t.Error != ""
}

// Clone returns a deep copy of t.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.User != nil {
		u := *t.User
		c.User = &u
	}
	return &c
}

// WithError returns a copy of t marked with the given error. Tokens are kept so
// a logout handshake can still use them.
func (t *Token) WithError(code, description string) *Token {
	c := t.Clone()
	if c == nil {
		c = &Token{}
	}
	c.Error = code
	c.ErrorDescription = description
	return c
}
