package auth

import (
	"context"

	"github.com/jrsteele09/go-keycloak-sso/internal/metrics"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/rs/zerolog/log"
)

// EndSessioner ends the provider's own SSO session.
type EndSessioner interface {
	EndSession(ctx context.Context, idToken, postLogoutRedirectURL string) error
}

// Handshake is the best-effort remote sign-out. It never fails the caller:
// provider errors are logged as LogoutError and dropped.
type Handshake struct {
	provider   EndSessioner
	providerID string
	baseURL    string
	metrics    *metrics.Metrics
}

func NewHandshake(provider EndSessioner, providerID, baseURL string, m *metrics.Metrics) *Handshake {
	return &Handshake{
		provider:   provider,
		providerID: providerID,
		baseURL:    baseURL,
		metrics:    m,
	}
}

// Run ends the provider session of tok. Records of other providers are
// ignored.
func (h *Handshake) Run(ctx context.Context, tok *session.Token) {
	if tok == nil || tok.Provider != h.providerID {
		h.metrics.LogoutHandshake(metrics.ResultSkipped)
		return
	}
	if err := h.provider.EndSession(ctx, tok.IDToken, h.baseURL+LoginPath); err != nil {
		log.Err(err).Str("error", session.ErrorLogout).Str("provider", tok.Provider).Msg("Sign-out handshake failed")
		h.metrics.LogoutHandshake(metrics.ResultError)
		return
	}
	h.metrics.LogoutHandshake(metrics.ResultSuccess)
}
