package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-keycloak-sso/internal/metrics"
	"github.com/jrsteele09/go-keycloak-sso/server/authflowrepo"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

// SignInHandler starts the authorization code flow (GET /api/auth/signin/{provider}).
func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.NewString()
		nonce := uuid.NewString()
		verifier := xoauth2.GenerateVerifier()
		now := session.NowTimeFunc()

		err := s.authState.Upsert(state, &authflowrepo.AuthFlowState{
			CodeVerifier: verifier,
			Nonce:        nonce,
			ReturnURL:    s.returnTarget(r, s.config.GetBaseURL()+"/"),
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.config.GetAuthFlowTimeout()),
		})
		if err == nil {
			err = s.setStateCookie(w, r, state, now.Add(s.config.GetAuthFlowTimeout()))
		}
		if err != nil {
			log.Err(err).Msg("Failed to store auth flow state")
			redirectWithError(w, r, RouteLogin, loginErrorOAuthSignin)
			return
		}

		http.Redirect(w, r, s.provider.AuthURL(state, nonce, verifier, s.callbackURL()), http.StatusFound)
	}
}

// OAuthCallbackHandler completes the flow (GET|POST /api/auth/callback/{provider}).
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")

		// The state must come back to the browser that started the sign-in.
		// A callback for some other flow leaves this browser's pending one alone.
		browserState, cookieErr := s.stateFromCookie(r)
		ownState := cookieErr == nil && state != "" && browserState == state
		if ownState {
			s.clearStateCookie(w, r)
		}

		// Check for authorization errors
		if errorParam != "" {
			log.Warn().Str("error", errorParam).Str("error_description", r.FormValue("error_description")).Msg("Provider returned an authorization error")
			s.metrics.SignIn(metrics.ResultDenied)
			redirectWithError(w, r, RouteLogin, errorParam)
			return
		}

		if code == "" || state == "" {
			redirectWithError(w, r, RouteLogin, loginErrorCallback)
			return
		}

		if !ownState {
			log.Warn().Err(cookieErr).Msg("Callback state does not belong to this browser")
			redirectWithError(w, r, RouteLogin, loginErrorCallback)
			return
		}

		authState, err := s.authState.Take(state)
		if err != nil || authState == nil {
			log.Err(err).Msg("Unknown or expired sign-in state")
			redirectWithError(w, r, RouteLogin, loginErrorCallback)
			return
		}

		account, user, err := s.provider.Exchange(r.Context(), code, authState.CodeVerifier, s.callbackURL(), authState.Nonce)
		if err != nil {
			log.Err(err).Msg("Authorization code exchange failed")
			s.metrics.SignIn(metrics.ResultError)
			redirectWithError(w, r, RouteLogin, loginErrorCallback)
			return
		}

		result := s.callbacks.OnSignIn(r.Context(), account, user)
		if !result.Allowed() {
			redirectWithError(w, r, result.Redirect, loginErrorAccessDenied)
			return
		}

		// Replace any previous session of this browser
		if oldID, _, err := s.sessionFromRequest(r); err == nil {
			if err := s.sessions.Delete(r.Context(), oldID); err != nil {
				log.Err(err).Msg("Failed to delete previous session")
			}
		}

		sessionID := uuid.NewString()
		if err := s.saveSession(r.Context(), w, r, sessionID, result.Token); err != nil {
			log.Err(err).Msg("Failed to create session")
			redirectWithError(w, r, RouteLogin, loginErrorCallback)
			return
		}

		redirectSuccess(w, r, s.callbacks.OnRedirect(authState.ReturnURL, s.config.GetBaseURL()))
	}
}
