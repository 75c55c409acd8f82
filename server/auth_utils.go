package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-keycloak-sso/internal/config"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"
)

// sessionFromRequest resolves the session cookie to its id and stored record.
func (s *Server) sessionFromRequest(r *http.Request) (string, *session.Token, error) {
	cookie, err := r.Cookie(s.config.GetSessionCookieName())
	if err != nil || cookie.Value == "" {
		return "", nil, fmt.Errorf("[server sessionFromRequest] no session cookie: %w", ssoerrors.ErrSessionNotFound)
	}
	sessionID, err := s.cookies.Decode(cookie.Value)
	if err != nil {
		return "", nil, err
	}
	tok, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		return "", nil, err
	}
	return sessionID, tok, nil
}

// saveSession stores tok and (re)issues the cookie for sessionID.
func (s *Server) saveSession(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string, tok *session.Token) error {
	ttl := session.TTL(tok, s.config.GetMaxSessionAge())
	if err := s.sessions.Upsert(ctx, sessionID, tok, ttl); err != nil {
		return ssoerrors.Wrapf(err, "[server saveSession] failed to store session %s", sessionID)
	}
	value, err := s.cookies.Encode(sessionID, session.NowTimeFunc().Add(ttl))
	if err != nil {
		return fmt.Errorf("[server saveSession] failed to encode session cookie: %w", err)
	}
	s.setSessionCookie(w, r, value, int(ttl/time.Second))
	return nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	isSecure := getScheme(r) == "https"

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookieName(),
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	s.setSessionCookie(w, r, "", -1)
}

// setStateCookie binds a pending sign-in to this browser. It is only sent
// back to the callback route.
func (s *Server) setStateCookie(w http.ResponseWriter, r *http.Request, state string, expires time.Time) error {
	value, err := s.states.Encode(state, expires)
	if err != nil {
		return fmt.Errorf("[server setStateCookie] failed to encode state cookie: %w", err)
	}
	s.writeStateCookie(w, r, value, int(expires.Sub(session.NowTimeFunc())/time.Second))
	return nil
}

// stateFromCookie returns the sign-in state this browser started.
func (s *Server) stateFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.config.GetStateCookieName())
	if err != nil || cookie.Value == "" {
		return "", fmt.Errorf("[server stateFromCookie] no state cookie: %w", ssoerrors.ErrInvalidState)
	}
	state, err := s.states.Decode(cookie.Value)
	if err != nil {
		return "", fmt.Errorf("[server stateFromCookie] %w: %w", ssoerrors.ErrInvalidState, err)
	}
	return state, nil
}

func (s *Server) clearStateCookie(w http.ResponseWriter, r *http.Request) {
	s.writeStateCookie(w, r, "", -1)
}

func (s *Server) writeStateCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetStateCookieName(),
		Value:    value,
		Path:     RouteCallbackPrefix,
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// returnTarget returns the safe redirect for the request's callbackUrl, or
// fallback when none was given.
func (s *Server) returnTarget(r *http.Request, fallback string) string {
	target := r.FormValue(paramCallbackURL)
	if target == "" {
		target = fallback
	}
	return s.callbacks.OnRedirect(target, s.config.GetBaseURL())
}

// currentURL is the absolute URL of r as seen through the public base URL.
func (s *Server) currentURL(r *http.Request) string {
	return s.config.GetBaseURL() + r.URL.RequestURI()
}

// withCallbackURL appends callbackUrl=target to path.
func withCallbackURL(path, target string) string {
	return path + "?" + url.Values{paramCallbackURL: {target}}.Encode()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("Failed to write JSON response")
	}
}

// redirectSuccess helper for htmx-aware success redirects
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", path)
		w.WriteHeader(http.StatusNoContent) // 204 - no content, just redirect instruction
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// redirectWithError helper for htmx-aware error redirects
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	fullPath := path + "?" + paramError + "=" + url.QueryEscape(errorMsg)

	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", fullPath)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, fullPath, http.StatusSeeOther)
}

// isHTMXRequest checks if the request was initiated by HTMX
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// sameOrigin reports whether a state changing request came from this site.
// Origin wins when sent, then Referer. Requests carrying neither (non-browser
// clients) are allowed.
func (s *Server) sameOrigin(r *http.Request) bool {
	base := config.Origin(s.config.GetBaseURL())
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin != "null" && config.Origin(origin) == base
	}
	if referer := r.Referer(); referer != "" {
		return config.Origin(referer) == base
	}
	return true
}
