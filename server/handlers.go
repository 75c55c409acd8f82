package server

import (
	"net/http"

	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/rs/zerolog/log"
)

// SessionHandler returns the client view of the session (GET /api/auth/session).
// No session yields an empty object; a session that can no longer be renewed
// yields 401 with the URL to sign in at.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, tok, reauth, err := s.liveSession(w, r)
		if err != nil {
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}
		if reauth != nil {
			writeJSON(w, http.StatusUnauthorized, reauthBody(tok, reauth))
			return
		}
		writeJSON(w, http.StatusOK, s.callbacks.OnSessionSerialize(tok))
	}
}

type rolesResponse struct {
	Subject     string   `json:"sub"`
	Username    string   `json:"preferred_username,omitempty"`
	RealmRoles  []string `json:"realmRoles"`
	ClientRoles []string `json:"clientRoles"`
}

// MyRolesHandler lists the realm roles and this client's roles of the signed
// in user (GET /api/me/roles).
func (s *Server) MyRolesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, ok := SessionFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		claims, err := keycloak.ParseAccessClaims(tok.AccessToken)
		if err != nil {
			log.Err(err).Msg("Unable to read access token claims")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		resp := rolesResponse{
			Subject:     claims.Subject,
			Username:    claims.PreferredUsername,
			RealmRoles:  claims.RealmRoles,
			ClientRoles: claims.ResourceRoles[s.provider.ClientID()],
		}
		if resp.RealmRoles == nil {
			resp.RealmRoles = []string{}
		}
		if resp.ClientRoles == nil {
			resp.ClientRoles = []string{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
