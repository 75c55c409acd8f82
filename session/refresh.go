package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/internal/utils"
	"github.com/jrsteele09/go-keycloak-sso/oauth2"
	"github.com/rs/zerolog/log"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// TokenRefresher performs the refresh_token grant against the identity
// provider's token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.TokenResponse, error)
}

// providerError is implemented by errors that carry an OAuth error response
// from the provider.
type providerError interface {
	error
	ErrorCode() string
	ErrorDescription() string
}

// Refresher renews expired access tokens. It never retries: a failed refresh
// is reported straight back so the caller can force re-authentication.
type Refresher struct {
	provider TokenRefresher
}

// NewRefresher creates a Refresher that uses provider for the refresh grant.
func NewRefresher(provider TokenRefresher) *Refresher {
	return &Refresher{provider: provider}
}

// Refresh returns tok unchanged while its access token is still valid. Once it
// has expired, Refresh exchanges the refresh token for a new record. When the
// refresh token itself has expired no provider call is made.
//
// On failure the returned record is a copy of tok carrying Error and
// ErrorDescription, with the original tokens retained, together with an error
// wrapping ErrRefreshExpired or ErrRefreshAccessToken.
func (r *Refresher) Refresh(ctx context.Context, tok *Token) (*Token, error) {
	const op = "session.Refresh"
	if tok == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ssoerrors.ErrRefreshAccessToken)
	}

	now := NowTimeFunc()
	if now.Before(tok.AccessTokenExpires) {
		return tok, nil
	}

	if tok.RefreshTokenExpired(now) {
		log.Info().Str("provider", tok.Provider).Time("refresh_expires", tok.RefreshTokenExpires).Msg("Refresh token expired, not contacting provider")
		return tok.WithError(ErrorRefreshExpired, descriptionRefreshExpired), fmt.Errorf("%s: %w", op, ssoerrors.ErrRefreshExpired)
	}

	if tok.RefreshToken == "" {
		return tok.WithError(ErrorRefreshAccessToken, descriptionRefreshFailed), fmt.Errorf("%s: refresh token is missing: %w", op, ssoerrors.ErrRefreshAccessToken)
	}

	resp, err := r.provider.Refresh(ctx, tok.RefreshToken)
	if err == nil && (resp == nil || resp.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}
	if err != nil {
		code, description := ErrorRefreshAccessToken, descriptionRefreshFailed
		var pe providerError
		if errors.As(err, &pe) {
			if pe.ErrorCode() != "" {
				code = pe.ErrorCode()
			}
			if pe.ErrorDescription() != "" {
				description = pe.ErrorDescription()
			}
		}
		log.Warn().Err(err).Str("provider", tok.Provider).Str("error_code", code).Msg("Failed to refresh access token")
		return tok.WithError(code, description), fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrRefreshAccessToken, err)
	}

	issued := NowTimeFunc()
	refreshed := tok.Clone()
	refreshed.AccessToken = resp.AccessToken
	refreshed.RefreshToken = utils.ValueOr(resp.RefreshToken, tok.RefreshToken)
	refreshed.IDToken = utils.ValueOr(resp.IdToken, tok.IDToken)
	refreshed.AccessTokenExpires = resp.AccessTokenExpiry(issued)
	if exp := resp.RefreshTokenExpiry(issued); !exp.IsZero() {
		refreshed.RefreshTokenExpires = exp
	}
	refreshed.Error = ""
	refreshed.ErrorDescription = ""
	return refreshed, nil
}
