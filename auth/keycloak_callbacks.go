package auth

import (
	"context"
	"errors"
	"fmt"

	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/internal/metrics"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/rs/zerolog/log"
)

type tokenRefresher interface {
	Refresh(ctx context.Context, tok *session.Token) (*session.Token, error)
}

// KeycloakCallbacks implements Callbacks for a Keycloak provider.
type KeycloakCallbacks struct {
	refresher tokenRefresher
	handshake *Handshake
	baseURL   string
	metrics   *metrics.Metrics
}

var _ Callbacks = (*KeycloakCallbacks)(nil)

// KeycloakCallbacksOption defines a function type to modify the KeycloakCallbacks instance.
type KeycloakCallbacksOption func(*KeycloakCallbacks)

func WithMetrics(m *metrics.Metrics) KeycloakCallbacksOption {
	return func(kc *KeycloakCallbacks) {
		kc.metrics = m
	}
}

func NewKeycloakCallbacks(refresher tokenRefresher, handshake *Handshake, baseURL string, options ...KeycloakCallbacksOption) (*KeycloakCallbacks, error) {
	if refresher == nil {
		return nil, errors.New("[NewKeycloakCallbacks] refresher is required")
	}
	if handshake == nil {
		return nil, errors.New("[NewKeycloakCallbacks] handshake is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("[NewKeycloakCallbacks] base url is empty: %w", ssoerrors.ErrMissingConfig)
	}

	kc := &KeycloakCallbacks{
		refresher: refresher,
		handshake: handshake,
		baseURL:   baseURL,
	}
	for _, opt := range options {
		opt(kc)
	}
	return kc, nil
}

func (kc *KeycloakCallbacks) OnSignIn(_ context.Context, account *Account, user *session.User) SignInResult {
	if account == nil || user == nil {
		log.Warn().Bool("account", account != nil).Bool("user", user != nil).Msg("Sign-in rejected, provider account or user missing")
		kc.metrics.SignIn(metrics.ResultDenied)
		return SignInResult{Redirect: LoginPath}
	}

	tok := account.Token(user, session.NowTimeFunc())
	kc.metrics.SignIn(metrics.ResultSuccess)
	return SignInResult{Token: tok}
}

func (kc *KeycloakCallbacks) OnTokenRefresh(ctx context.Context, tok *session.Token) (*session.Token, error) {
	reauth := kc.baseURL + SignInPath(providerOf(tok))
	if tok == nil {
		return nil, &ReauthenticateError{RedirectURL: reauth, Cause: ssoerrors.ErrSessionNotFound}
	}
	// the handshake already ran when the error was recorded
	if tok.HasError() {
		return tok, &ReauthenticateError{RedirectURL: reauth, Cause: fmt.Errorf("session carries %s", tok.Error)}
	}

	refreshed, err := kc.refresher.Refresh(ctx, tok)
	if err == nil {
		if refreshed != tok {
			kc.metrics.TokenRefresh(metrics.ResultSuccess)
		}
		return refreshed, nil
	}

	if errors.Is(err, ssoerrors.ErrRefreshExpired) {
		kc.metrics.TokenRefresh(metrics.ResultExpired)
	} else {
		kc.metrics.TokenRefresh(metrics.ResultError)
	}
	if refreshed == nil {
		refreshed = tok.WithError(session.ErrorRefreshAccessToken, "Failed to refresh access token")
	}
	kc.handshake.Run(ctx, refreshed)
	return refreshed, &ReauthenticateError{RedirectURL: reauth, Cause: err}
}

func (kc *KeycloakCallbacks) OnRedirect(target, baseURL string) string {
	return SafeRedirect(target, baseURL)
}

// OnSessionSerialize exposes the user, the error marker and the access token.
// Expires is when the session stops being renewable.
func (kc *KeycloakCallbacks) OnSessionSerialize(tok *session.Token) Session {
	if tok == nil {
		return Session{}
	}
	s := Session{
		Error:       tok.Error,
		AccessToken: tok.AccessToken,
		Expires:     tok.RefreshTokenExpires,
	}
	if tok.User != nil {
		u := *tok.User
		s.User = &u
	}
	return s
}

func (kc *KeycloakCallbacks) OnSignOut(ctx context.Context, tok *session.Token) {
	kc.handshake.Run(ctx, tok)
}

func providerOf(tok *session.Token) string {
	if tok == nil || tok.Provider == "" {
		return "keycloak"
	}
	return tok.Provider
}
