package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-keycloak-sso/auth"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the live *session.Token
	ContextKeySession ContextKey = "session"
	// ContextKeySessionID stores the opaque session id
	ContextKeySessionID ContextKey = "session_id"
)

// SessionFromContext returns the token record placed by RequireSession.
func SessionFromContext(ctx context.Context) (*session.Token, bool) {
	tok, ok := ctx.Value(ContextKeySession).(*session.Token)
	return tok, ok && tok != nil
}

// liveSession loads the request's session and runs it through
// OnTokenRefresh, persisting any change. It returns the re-authentication
// error separately so callers can answer in their own format.
func (s *Server) liveSession(w http.ResponseWriter, r *http.Request) (string, *session.Token, *auth.ReauthenticateError, error) {
	sessionID, tok, err := s.sessionFromRequest(r)
	if err != nil {
		return "", nil, nil, err
	}

	refreshed, err := s.callbacks.OnTokenRefresh(r.Context(), tok)
	if refreshed != nil && refreshed != tok {
		if saveErr := s.saveSession(r.Context(), w, r, sessionID, refreshed); saveErr != nil {
			log.Err(saveErr).Msg("Failed to persist refreshed session")
		}
	}
	if err != nil {
		var reauth *auth.ReauthenticateError
		if ssoerrors.As(err, &reauth) {
			return sessionID, refreshed, reauth, nil
		}
		return "", nil, nil, err
	}
	return sessionID, refreshed, nil, nil
}

// RequireSession is middleware for HTML routes. Requests without a live session
// are sent to sign in and come back to the page afterwards.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID, tok, reauth, err := s.liveSession(w, r)
			if err != nil {
				redirectSuccess(w, r, withCallbackURL(s.signInRoute(), s.currentURL(r)))
				return
			}
			if reauth != nil {
				redirectSuccess(w, r, withCallbackURL(reauth.RedirectURL, s.currentURL(r)))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, tok)
			ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireAPISession is middleware for JSON routes. It answers 401 instead of
// redirecting; the body carries the URL to sign in at.
func (s *Server) RequireAPISession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID, tok, reauth, err := s.liveSession(w, r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "unauthorized",
					"url":   s.config.GetBaseURL() + s.signInRoute(),
				})
				return
			}
			if reauth != nil {
				writeJSON(w, http.StatusUnauthorized, reauthBody(tok, reauth))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, tok)
			ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireRealmRole is middleware that requires one of the given realm roles.
// Should be chained after RequireSession or RequireAPISession.
func (s *Server) RequireRealmRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tok, ok := SessionFromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			claims, err := keycloak.ParseAccessClaims(tok.AccessToken)
			if err != nil {
				log.Err(err).Msg("Unable to read access token claims")
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
				return
			}
			for _, role := range roles {
				if claims.HasRealmRole(role) {
					next(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":             "forbidden",
				"error_description": "missing required realm role",
			})
		}
	}
}

// reauthBody is the 401 answer for a session that has to sign in again.
func reauthBody(tok *session.Token, reauth *auth.ReauthenticateError) map[string]string {
	code := session.ErrorRefreshAccessToken
	if tok != nil && tok.Error != "" {
		code = tok.Error
	}
	return map[string]string{"error": code, "url": reauth.RedirectURL}
}
