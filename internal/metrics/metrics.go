package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultExpired = "expired"
	ResultDenied  = "denied"
	ResultSkipped = "skipped"
)

// Metrics counts token lifecycle outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tokenRefresh    *prometheus.CounterVec
	logoutHandshake *prometheus.CounterVec
	signIn          *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_token_refresh_total",
			Help: "Access token refresh attempts by result.",
		}, []string{"result"}),
		logoutHandshake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_logout_handshake_total",
			Help: "Provider end-session handshakes by result.",
		}, []string{"result"}),
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_signin_total",
			Help: "Provider sign-ins by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.tokenRefresh, m.logoutHandshake, m.signIn)
	return m
}

func (m *Metrics) TokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefresh.WithLabelValues(result).Inc()
}

func (m *Metrics) LogoutHandshake(result string) {
	if m == nil {
		return
	}
	m.logoutHandshake.WithLabelValues(result).Inc()
}

func (m *Metrics) SignIn(result string) {
	if m == nil {
		return
	}
	m.signIn.WithLabelValues(result).Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
