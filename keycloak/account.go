package keycloak

import (
	"time"

	"github.com/jrsteele09/go-keycloak-sso/session"
)

// Account is the provider account produced by a successful code exchange.
type Account struct {
	Provider          string
	Type              string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	IDToken           string
	ExpiresAt         time.Time // zero when the provider reported no lifetime
	RefreshExpiresIn  int64     // seconds
	TokenType         string
	SessionState      string
	Scope             string
}

// Token builds the initial session record for the account. The refresh
// expiry is RefreshExpiresIn counted from now and stays zero when the provider
// reported none.
func (a *Account) Token(user *session.User, now time.Time) *session.Token {
	tok := &session.Token{
		Provider:           a.Provider,
		AccessToken:        a.AccessToken,
		RefreshToken:       a.RefreshToken,
		IDToken:            a.IDToken,
		AccessTokenExpires: a.ExpiresAt,
	}
	if a.RefreshExpiresIn > 0 {
		tok.RefreshTokenExpires = now.Add(time.Duration(a.RefreshExpiresIn) * time.Second)
	}
	if user != nil {
		u := *user
		tok.User = &u
	}
	return tok
}
