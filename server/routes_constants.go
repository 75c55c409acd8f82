package server

import "github.com/jrsteele09/go-keycloak-sso/auth"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Pages
	RouteIndex = "/{$}"
	RouteLogin = auth.LoginPath

	// Auth API
	RouteSignInPrefix   = auth.SignInPathPrefix
	RouteCallbackPrefix = "/api/auth/callback/"
	RouteSession        = "/api/auth/session"
	RouteSignOut        = "/api/auth/signout"

	// Protected API
	RouteMyRoles = "/api/me/roles"

	// Operations
	RouteMetrics = "/metrics"
	RouteStatic  = "/static/"
)

// Query parameters
const (
	paramCallbackURL = "callbackUrl"
	paramError       = "error"
)

// Error codes shown on the login page
const (
	loginErrorCallback     = "Callback"
	loginErrorOAuthSignin  = "OAuthSignin"
	loginErrorAccessDenied = "AccessDenied"
	loginErrorSessionEnded = "SessionRequired"
)

func (s *Server) signInRoute() string {
	return RouteSignInPrefix + s.provider.ProviderID()
}

func (s *Server) callbackRoute() string {
	return RouteCallbackPrefix + s.provider.ProviderID()
}

// callbackURL is the redirect_uri registered with the provider.
func (s *Server) callbackURL() string {
	return s.config.GetBaseURL() + s.callbackRoute()
}
