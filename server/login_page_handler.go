package server

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// LoginPageData contains data for rendering the login page
type LoginPageData struct {
	AppName     string
	SignInURL   string
	Error       string
	AutoSignIn  bool
	CallbackURL string
}

var loginErrorMessages = map[string]string{
	loginErrorCallback:     "Sign in could not be completed. Please try again.",
	loginErrorOAuthSignin:  "Sign in could not be started. Please try again.",
	loginErrorAccessDenied: "Access was denied.",
	loginErrorSessionEnded: "Your session has ended. Please sign in again.",
}

// LoginPageHandler displays the login page (GET /login). Without an error it
// continues straight to the provider.
func (s *Server) LoginPageHandler() http.HandlerFunc {
	loginTmpl, err := ParseTemplate("login.html")
	if err != nil {
		log.Err(err).Msg("Failed to parse login template")
	}

	return func(w http.ResponseWriter, r *http.Request) {
		errorCode := r.URL.Query().Get(paramError)
		errorMsg := ""
		if errorCode != "" {
			var ok bool
			if errorMsg, ok = loginErrorMessages[errorCode]; !ok {
				errorMsg = "Sign in failed: " + errorCode
			}
		}

		data := LoginPageData{
			AppName:     s.config.GetAppName(),
			SignInURL:   s.signInRoute(),
			Error:       errorMsg,
			AutoSignIn:  errorCode == "",
			CallbackURL: r.URL.Query().Get(paramCallbackURL),
		}
		if data.CallbackURL != "" {
			data.SignInURL = withCallbackURL(s.signInRoute(), s.returnTarget(r, ""))
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if loginTmpl == nil {
			http.Error(w, "Failed to render login page", http.StatusInternalServerError)
			return
		}
		if err := loginTmpl.Execute(w, data); err != nil {
			log.Err(err).Msg("Failed to render login template")
			http.Error(w, "Failed to render login page", http.StatusInternalServerError)
		}
	}
}

// SignOutPageData contains data for rendering the sign out confirmation
type SignOutPageData struct {
	AppName     string
	SignOutURL  string
	CallbackURL string
}

// SignOutPageHandler asks the user to confirm sign out (GET /api/auth/signout).
// Nothing is ended until the form is posted.
func (s *Server) SignOutPageHandler() http.HandlerFunc {
	signOutTmpl, err := ParseTemplate("signout.html")
	if err != nil {
		log.Err(err).Msg("Failed to parse sign out template")
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data := SignOutPageData{
			AppName:    s.config.GetAppName(),
			SignOutURL: RouteSignOut,
		}
		if r.URL.Query().Get(paramCallbackURL) != "" {
			data.CallbackURL = s.returnTarget(r, "")
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if signOutTmpl == nil {
			http.Error(w, "Failed to render sign out page", http.StatusInternalServerError)
			return
		}
		if err := signOutTmpl.Execute(w, data); err != nil {
			log.Err(err).Msg("Failed to render sign out template")
			http.Error(w, "Failed to render sign out page", http.StatusInternalServerError)
		}
	}
}

// SignOutHandler ends the local session and the provider session
// (POST /api/auth/signout). Cross-site posts are refused.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sameOrigin(r) {
			log.Warn().Str("origin", r.Header.Get("Origin")).Str("referer", r.Referer()).Msg("Refusing cross-site sign out")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		redirect := func() {
			s.clearSessionCookie(w, r)
			redirectSuccess(w, r, s.returnTarget(r, s.config.GetBaseURL()+RouteLogin))
		}

		sessionID, tok, err := s.sessionFromRequest(r)
		if err != nil {
			redirect()
			return
		}

		s.callbacks.OnSignOut(r.Context(), tok)

		if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
			log.Err(err).Msg("Failed to delete session")
		}

		redirect()
	}
}
