package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/jrsteele09/go-keycloak-sso/session"
)

const (
	// LoginPath is the application's login page.
	LoginPath = "/login"
	// SignInPathPrefix starts a provider sign-in, e.g. /api/auth/signin/keycloak.
	SignInPathPrefix = "/api/auth/signin/"
)

// Account is the provider account handed to OnSignIn.
type Account = keycloak.Account

// SignInResult is the outcome of OnSignIn: either a new token record or a path
// to send the user to instead.
type SignInResult struct {
	Token    *session.Token
	Redirect string
}

func (r SignInResult) Allowed() bool {
	return r.Token != nil && r.Redirect == ""
}

// Session is the client visible view of a token record.
type Session struct {
	User        *session.User `json:"user,omitempty"`
	Error       string        `json:"error,omitempty"`
	AccessToken string        `json:"accessToken,omitempty"`
	Expires     time.Time     `json:"expires"`
}

// Callbacks are the hooks the HTTP layer drives during a session's life.
type Callbacks interface {
	// OnSignIn builds the token record after a provider sign-in.
	OnSignIn(ctx context.Context, account *Account, user *session.User) SignInResult
	// OnTokenRefresh runs for every token-bearing request. A
	// *ReauthenticateError means the record is dead and the user has to sign in
	// again; the returned record then carries the error marker.
	OnTokenRefresh(ctx context.Context, tok *session.Token) (*session.Token, error)
	// OnRedirect returns target when it is safe to redirect to, otherwise baseURL.
	OnRedirect(target, baseURL string) string
	OnSessionSerialize(tok *session.Token) Session
	// OnSignOut runs before the local session is destroyed.
	OnSignOut(ctx context.Context, tok *session.Token)
}

// SignInPath returns the path that starts a sign-in with providerID.
func SignInPath(providerID string) string {
	return SignInPathPrefix + providerID
}
