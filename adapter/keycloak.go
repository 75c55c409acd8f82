// Package adapter is a programmatic Keycloak client that owns its token state,
// for callers outside a browser session (CLIs, workers, tests).
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

// DefaultMinValidity is the margin UpdateToken uses when given zero.
const DefaultMinValidity = 5 * time.Second

// Provider is the subset of *keycloak.Client the adapter drives.
type Provider interface {
	session.TokenRefresher
	ClientID() string
	AuthURL(state, nonce, verifier, redirectURL string) string
	Exchange(ctx context.Context, code, verifier, redirectURL, nonce string) (*keycloak.Account, *session.User, error)
	EndSession(ctx context.Context, idToken, postLogoutRedirectURL string) error
	LoadUserProfile(ctx context.Context, accessToken string) (*session.User, error)
}

type pendingLogin struct {
	state       string
	nonce       string
	verifier    string
	redirectURL string
}

// Keycloak holds one user's tokens. It is safe for concurrent use.
type Keycloak struct {
	mu        sync.Mutex
	provider  Provider
	refresher *session.Refresher
	token     *session.Token
	claims    *keycloak.AccessClaims
	pending   *pendingLogin
}

func New(provider Provider) (*Keycloak, error) {
	if provider == nil {
		return nil, errors.New("[adapter New] provider is required")
	}
	return &Keycloak{
		provider:  provider,
		refresher: session.NewRefresher(provider),
	}, nil
}

// Init adopts an existing token record (check-sso). It never starts a login:
// without a record, or when the record can no longer be renewed, it reports
// false.
func (k *Keycloak) Init(ctx context.Context, existing *session.Token) (bool, error) {
	if existing == nil || existing.HasError() {
		return false, nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.setTokenLocked(existing.Clone()); err != nil {
		return false, err
	}
	if _, err := k.updateLocked(ctx, DefaultMinValidity); err != nil {
		return false, err
	}
	return true, nil
}

// Login starts an authorization code flow and returns the URL to send the user
// to. CompleteLogin finishes it.
func (k *Keycloak) Login(_ context.Context, redirectURL string) (string, error) {
	if redirectURL == "" {
		return "", fmt.Errorf("[adapter Login] redirect url is required: %w", ssoerrors.ErrMissingConfig)
	}
	p := &pendingLogin{
		state:       uuid.NewString(),
		nonce:       uuid.NewString(),
		verifier:    xoauth2.GenerateVerifier(),
		redirectURL: redirectURL,
	}
	k.mu.Lock()
	k.pending = p
	k.mu.Unlock()
	return k.provider.AuthURL(p.state, p.nonce, p.verifier, p.redirectURL), nil
}

// CompleteLogin exchanges the code returned to the redirect URL.
func (k *Keycloak) CompleteLogin(ctx context.Context, state, code string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	p := k.pending
	if p == nil || state == "" || state != p.state {
		return fmt.Errorf("[adapter CompleteLogin] %w", ssoerrors.ErrInvalidState)
	}
	k.pending = nil

	account, user, err := k.provider.Exchange(ctx, code, p.verifier, p.redirectURL, p.nonce)
	if err != nil {
		return fmt.Errorf("[adapter CompleteLogin] %w", err)
	}
	return k.setTokenLocked(account.Token(user, session.NowTimeFunc()))
}

// Logout ends the provider session and drops the local tokens. The tokens are
// dropped even when the provider call fails.
func (k *Keycloak) Logout(ctx context.Context, redirectURL string) error {
	k.mu.Lock()
	tok := k.token
	k.clearLocked()
	k.mu.Unlock()

	if tok == nil {
		return nil
	}
	if err := k.provider.EndSession(ctx, tok.IDToken, redirectURL); err != nil {
		log.Err(err).Str("error", session.ErrorLogout).Msg("Provider logout failed")
		return fmt.Errorf("[adapter Logout] %w: %w", ssoerrors.ErrLogout, err)
	}
	return nil
}

// Token returns a copy of the current record, or nil when logged out.
func (k *Keycloak) Token() *session.Token {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.token == nil {
		return nil
	}
	return k.token.Clone()
}

func (k *Keycloak) IsLoggedIn() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.token != nil
}

// UpdateToken refreshes the access token when it expires within minValidity
// (DefaultMinValidity when zero, always when negative). It reports whether a
// refresh happened. A failed refresh logs the adapter out.
func (k *Keycloak) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.updateLocked(ctx, minValidity)
}

func (k *Keycloak) updateLocked(ctx context.Context, minValidity time.Duration) (bool, error) {
	if k.token == nil {
		return false, fmt.Errorf("[adapter UpdateToken] %w", ssoerrors.ErrSessionNotFound)
	}
	if minValidity == 0 {
		minValidity = DefaultMinValidity
	}

	due := k.token.Clone()
	if minValidity < 0 {
		due.AccessTokenExpires = time.Time{}
	} else {
		due.AccessTokenExpires = due.AccessTokenExpires.Add(-minValidity)
	}

	refreshed, err := k.refresher.Refresh(ctx, due)
	if err != nil {
		k.clearLocked()
		return false, fmt.Errorf("[adapter UpdateToken] %w", err)
	}
	if refreshed == due {
		return false, nil
	}
	if err := k.setTokenLocked(refreshed); err != nil {
		return false, err
	}
	return true, nil
}

// LoadUserProfile fetches the account profile and attaches it to the record.
func (k *Keycloak) LoadUserProfile(ctx context.Context) (*session.User, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.token == nil {
		return nil, fmt.Errorf("[adapter LoadUserProfile] %w", ssoerrors.ErrSessionNotFound)
	}
	user, err := k.provider.LoadUserProfile(ctx, k.token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("[adapter LoadUserProfile] %w", err)
	}
	k.token.User = user
	u := *user
	return &u, nil
}

// HasRealmRole reports whether the access token carries any of roles.
func (k *Keycloak) HasRealmRole(roles ...string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, role := range roles {
		if k.claims.HasRealmRole(role) {
			return true
		}
	}
	return false
}

// HasResourceRole reports whether the access token carries any of roles for
// resource. An empty resource means this client.
func (k *Keycloak) HasResourceRole(resource string, roles ...string) bool {
	if resource == "" {
		resource = k.provider.ClientID()
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, role := range roles {
		if k.claims.HasResourceRole(resource, role) {
			return true
		}
	}
	return false
}

func (k *Keycloak) setTokenLocked(tok *session.Token) error {
	claims, err := keycloak.ParseAccessClaims(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("[adapter] unreadable access token: %w", err)
	}
	k.token = tok
	k.claims = claims
	return nil
}

func (k *Keycloak) clearLocked() {
	k.token = nil
	k.claims = nil
	k.pending = nil
}
