package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-keycloak-sso/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.TokenRefresh(metrics.ResultSuccess)
	m.TokenRefresh(metrics.ResultError)
	m.TokenRefresh(metrics.ResultError)
	m.LogoutHandshake(metrics.ResultSuccess)
	m.SignIn(metrics.ResultDenied)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `sso_token_refresh_total{result="error"} 2`)
	require.Contains(t, string(body), `sso_token_refresh_total{result="success"} 1`)
	require.Contains(t, string(body), `sso_logout_handshake_total{result="success"} 1`)
	require.Contains(t, string(body), `sso_signin_total{result="denied"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.TokenRefresh(metrics.ResultSuccess)
		m.LogoutHandshake(metrics.ResultError)
		m.SignIn(metrics.ResultSuccess)
	})
}
