package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-keycloak-sso/auth"
	"github.com/jrsteele09/go-keycloak-sso/internal/config"
	"github.com/jrsteele09/go-keycloak-sso/internal/metrics"
	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/jrsteele09/go-keycloak-sso/server/authflowrepo"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Provider is the identity provider as seen by the HTTP layer.
type Provider interface {
	ProviderID() string
	ClientID() string
	AuthURL(state, nonce, verifier, redirectURL string) string
	Exchange(ctx context.Context, code, verifier, redirectURL, nonce string) (*keycloak.Account, *session.User, error)
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	provider  Provider
	callbacks auth.Callbacks
	sessions  session.Repo
	cookies   *session.CookieCodec
	states    *session.CookieCodec
	authState authflowrepo.Repo
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
}

// ServerOption defines a function type to modify the Server instance.
type ServerOption func(*Server)

// WithMetrics records sign-in outcomes in m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

func New(config config.Config, provider Provider, callbacks auth.Callbacks, sessionRepo session.Repo, authStateRepo authflowrepo.Repo, options ...ServerOption) (*Server, error) {
	if provider == nil {
		return nil, errors.New("[Server New] provider is required")
	}
	if callbacks == nil {
		return nil, errors.New("[Server New] callbacks are required")
	}
	if sessionRepo == nil || authStateRepo == nil {
		return nil, errors.New("[Server New] session and auth state repos are required")
	}

	cookies, err := session.NewCookieCodec(config.GetSessionSecret(), config.GetBaseURL())
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create session cookie codec: %w", err)
	}

	s := &Server{
		mux:       http.NewServeMux(),
		config:    config,
		provider:  provider,
		callbacks: callbacks,
		sessions:  sessionRepo,
		cookies:   cookies,
		authState: authStateRepo,
	}
	// a different issuer keeps session and state cookies from standing in for each other
	if s.states, err = session.NewCookieCodec(config.GetSessionSecret(), s.callbackURL()); err != nil {
		return nil, fmt.Errorf("[Server New] failed to create state cookie codec: %w", err)
	}
	s.env = config.GetEnv()
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Info().Msgf("[%-19s] %s", displayMethod, path)
}

func logError(method, path, error string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Error().Msgf("[%-19s] %s %s", displayMethod, path, Red+error+ResetColor)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
