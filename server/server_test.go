package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-keycloak-sso/auth"
	"github.com/jrsteele09/go-keycloak-sso/internal/config"
	"github.com/jrsteele09/go-keycloak-sso/internal/metrics"
	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/jrsteele09/go-keycloak-sso/server"
	"github.com/jrsteele09/go-keycloak-sso/server/authflowrepo"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testConfig points the server at the httptest base URL, which is only known
// once the listener is up.
type testConfig struct {
	config.Config
	baseURL string
}

func (c testConfig) GetBaseURL() string       { return c.baseURL }
func (c testConfig) GetSessionSecret() string { return testSecret }
func (c testConfig) GetEnv() string           { return "TEST" }

type harness struct {
	t        *testing.T
	provider *keycloak.TestProvider
	ts       *httptest.Server
	client   *http.Client
	sessions *session.InMemoryRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("ALLOWED_ORIGINS", "")

	tp := keycloak.StartTestProvider(t)
	tp.SetRealmRoles("offline_access", "admin")
	tp.SetResourceRoles("test-client", "reader")
	kc, err := keycloak.NewClient(tp.Config())
	require.NoError(t, err)

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	handshake := auth.NewHandshake(kc, kc.ProviderID(), ts.URL, m)
	callbacks, err := auth.NewKeycloakCallbacks(session.NewRefresher(kc), handshake, ts.URL, auth.WithMetrics(m))
	require.NoError(t, err)

	sessions := session.NewInMemoryRepo()
	srv, err := server.New(testConfig{Config: config.New(), baseURL: ts.URL}, kc, callbacks, sessions, authflowrepo.NewInMemoryRepo(), server.WithMetrics(m, reg))
	require.NoError(t, err)
	handler = srv

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &harness{t: t, provider: tp, ts: ts, client: client, sessions: sessions}
}

func (h *harness) do(method, path string, header http.Header) (*http.Response, string) {
	h.t.Helper()
	target := path
	if strings.HasPrefix(path, "/") {
		target = h.ts.URL + path
	}
	req, err := http.NewRequest(method, target, nil)
	require.NoError(h.t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, string(body)
}

func (h *harness) get(path string) (*http.Response, string) {
	h.t.Helper()
	return h.do(http.MethodGet, path, nil)
}

// authorize starts sign-in in this browser and returns the provider's redirect
// back to the callback route, without following it.
func (h *harness) authorize() *url.URL {
	h.t.Helper()
	resp, _ := h.get(server.RouteSignInPrefix + "keycloak?callbackUrl=%2F")
	require.Equal(h.t, http.StatusFound, resp.StatusCode)
	authURL := resp.Header.Get("Location")
	require.True(h.t, strings.HasPrefix(authURL, h.provider.Issuer()), authURL)

	callback, err := h.provider.Authorize(authURL)
	require.NoError(h.t, err)
	require.Equal(h.t, h.ts.URL+server.RouteCallbackPrefix+"keycloak", callback.Scheme+"://"+callback.Host+callback.Path)
	return callback
}

// signIn runs the browser side of the authorization code flow.
func (h *harness) signIn() {
	h.t.Helper()
	resp, _ := h.get(h.authorize().String())
	require.Equal(h.t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(h.t, h.ts.URL+"/", resp.Header.Get("Location"))
}

// otherBrowser shares the server but has its own cookie jar.
func (h *harness) otherBrowser() *harness {
	h.t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(h.t, err)
	other := *h
	other.client = &http.Client{Jar: jar, CheckRedirect: h.client.CheckRedirect}
	return &other
}

func (h *harness) cookie(path, name string) *http.Cookie {
	h.t.Helper()
	u, err := url.Parse(h.ts.URL + path)
	require.NoError(h.t, err)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (h *harness) session() (int, auth.Session) {
	h.t.Helper()
	resp, body := h.get(server.RouteSession)
	var s auth.Session
	require.NoError(h.t, json.Unmarshal([]byte(body), &s), body)
	return resp.StatusCode, s
}

// advanceClock moves the session clock past the access token lifetime.
func advanceClock(t *testing.T, d time.Duration) {
	t.Helper()
	orig := session.NowTimeFunc
	session.NowTimeFunc = func() time.Time { return time.Now().Add(d) }
	t.Cleanup(func() { session.NowTimeFunc = orig })
}

func TestSignInFlow(t *testing.T) {
	h := newHarness(t)

	status, s := h.session()
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, s.User)

	h.signIn()
	require.Equal(t, 1, h.provider.ExchangeCalls())

	status, s = h.session()
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, s.User)
	require.Equal(t, "Jane Doe", s.User.Name)
	require.Equal(t, "jane@example.com", s.User.Email)
	require.NotEmpty(t, s.AccessToken)
	require.Empty(t, s.Error)
	require.True(t, s.Expires.After(time.Now().Add(25*time.Minute)))

	resp, body := h.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Jane Doe")
	require.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
}

func TestSessionCookie(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	u, err := url.Parse(h.ts.URL)
	require.NoError(t, err)
	cookies := h.client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	require.Equal(t, "sso.session-token", cookies[0].Name)

	t.Run("tampered cookie is no session", func(t *testing.T) {
		resp, body := h.do(http.MethodGet, server.RouteSession, http.Header{
			"Cookie": {"sso.session-token=" + cookies[0].Value + "x"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, "{}", body)
	})
}

func TestIndexRequiresSession(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.get("/")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	want := server.RouteSignInPrefix + "keycloak?callbackUrl=" + url.QueryEscape(h.ts.URL+"/")
	require.Equal(t, want, resp.Header.Get("Location"))

	t.Run("htmx", func(t *testing.T) {
		resp, _ := h.do(http.MethodGet, "/", http.Header{"Hx-Request": {"true"}})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, want, resp.Header.Get("HX-Redirect"))
	})
}

func TestRefreshOnRequest(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	_, before := h.session()

	advanceClock(t, 10*time.Minute)

	status, after := h.session()
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, after.Error)
	require.NotEqual(t, before.AccessToken, after.AccessToken)
	require.Equal(t, 1, h.provider.RefreshCalls())

	// the refreshed record was stored, so no second call
	_, again := h.session()
	require.Equal(t, after.AccessToken, again.AccessToken)
	require.Equal(t, 1, h.provider.RefreshCalls())
}

func TestRefreshFailure(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	advanceClock(t, 10*time.Minute)
	h.provider.SetRefreshError(http.StatusBadRequest, "invalid_grant", "Token is not active")

	resp, body := h.get(server.RouteSession)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Equal(t, "invalid_grant", out["error"])
	require.Equal(t, h.ts.URL+server.RouteSignInPrefix+"keycloak", out["url"])
	require.Equal(t, 1, h.provider.RefreshCalls())
	require.Equal(t, 1, h.provider.LogoutCalls())
	require.Equal(t, h.ts.URL+server.RouteLogin, h.provider.LastLogout().Get("post_logout_redirect_uri"))

	t.Run("errored record is not retried", func(t *testing.T) {
		resp, _ := h.get(server.RouteSession)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, 1, h.provider.RefreshCalls())
		require.Equal(t, 1, h.provider.LogoutCalls())
	})

	t.Run("page redirects to sign in", func(t *testing.T) {
		resp, _ := h.get("/")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.True(t, strings.HasPrefix(resp.Header.Get("Location"), h.ts.URL+server.RouteSignInPrefix+"keycloak?callbackUrl="))
	})
}

func TestRefreshExpired(t *testing.T) {
	h := newHarness(t)
	h.provider.SetTokenLifetimes(time.Minute, 2*time.Minute)
	h.signIn()

	advanceClock(t, 3*time.Minute)

	// the session outlived its refresh token
	status, s := h.session()
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, s.User)
	require.Equal(t, 0, h.provider.RefreshCalls())
}

func TestSignOut(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	resp, _ := h.do(http.MethodPost, server.RouteSignOut, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, h.ts.URL+server.RouteLogin, resp.Header.Get("Location"))
	require.Equal(t, 1, h.provider.LogoutCalls())
	require.NotEmpty(t, h.provider.LastLogout().Get("id_token_hint"))

	status, s := h.session()
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, s.User)

	t.Run("without session", func(t *testing.T) {
		resp, _ := h.do(http.MethodPost, server.RouteSignOut+"?callbackUrl=https%3A%2F%2Fevil.example.com", nil)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, h.ts.URL, resp.Header.Get("Location"))
		require.Equal(t, 1, h.provider.LogoutCalls())
	})
}

func TestSignOutConfirmation(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	resp, body := h.get(server.RouteSignOut + "?callbackUrl=%2Fbye")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `method="post"`)
	require.Contains(t, body, `action="`+server.RouteSignOut+`"`)
	require.Contains(t, body, `value="`+h.ts.URL+`/bye"`)
	require.Equal(t, 0, h.provider.LogoutCalls())

	status, s := h.session()
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, s.User)
}

func TestSignOutOrigin(t *testing.T) {
	tests := []struct {
		name   string
		header func(h *harness) http.Header
		want   int
		calls  int
	}{
		{"same origin", func(h *harness) http.Header { return http.Header{"Origin": {h.ts.URL}} }, http.StatusSeeOther, 1},
		{"cross origin", func(*harness) http.Header { return http.Header{"Origin": {"https://evil.example.com"}} }, http.StatusForbidden, 0},
		{"opaque origin", func(*harness) http.Header { return http.Header{"Origin": {"null"}} }, http.StatusForbidden, 0},
		{"same site referer", func(h *harness) http.Header { return http.Header{"Referer": {h.ts.URL + "/"}} }, http.StatusSeeOther, 1},
		{"cross site referer", func(*harness) http.Header { return http.Header{"Referer": {"https://evil.example.com/page"}} }, http.StatusForbidden, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.signIn()

			resp, _ := h.do(http.MethodPost, server.RouteSignOut, tt.header(h))
			require.Equal(t, tt.want, resp.StatusCode)
			require.Equal(t, tt.calls, h.provider.LogoutCalls())

			_, s := h.session()
			require.Equal(t, tt.calls == 0, s.User != nil)
		})
	}
}

func TestMyRoles(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(server.RouteMyRoles)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, body, server.RouteSignInPrefix+"keycloak")

	h.signIn()
	resp, body = h.get(server.RouteMyRoles)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Username    string   `json:"preferred_username"`
		RealmRoles  []string `json:"realmRoles"`
		ClientRoles []string `json:"clientRoles"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Equal(t, "jane", out.Username)
	require.ElementsMatch(t, []string{"offline_access", "admin"}, out.RealmRoles)
	require.Equal(t, []string{"reader"}, out.ClientRoles)
}

func TestCallbackErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"provider error", "?error=access_denied&state=x", server.RouteLogin + "?error=access_denied"},
		{"missing code", "?state=x", server.RouteLogin + "?error=Callback"},
		{"unknown state", "?state=nope&code=abc", server.RouteLogin + "?error=Callback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.get(server.RouteCallbackPrefix + "keycloak" + tt.query)
			require.Equal(t, http.StatusSeeOther, resp.StatusCode)
			require.Equal(t, tt.want, resp.Header.Get("Location"))
		})
	}
	require.Equal(t, 0, h.provider.ExchangeCalls())
}

func TestCallbackBoundToBrowser(t *testing.T) {
	t.Run("state cookie", func(t *testing.T) {
		h := newHarness(t)
		resp, _ := h.get(server.RouteSignInPrefix + "keycloak")
		require.Equal(t, http.StatusFound, resp.StatusCode)

		var set *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == "sso.state" {
				set = c
			}
		}
		require.NotNil(t, set)
		require.True(t, set.HttpOnly)
		require.Equal(t, http.SameSiteLaxMode, set.SameSite)
		require.Equal(t, server.RouteCallbackPrefix, set.Path)
		require.Positive(t, set.MaxAge)
		require.Nil(t, h.cookie("/", "sso.state"))
	})

	t.Run("callback from another browser", func(t *testing.T) {
		h := newHarness(t)
		callback := h.authorize()

		victim := h.otherBrowser()
		resp, _ := victim.get(callback.String())
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, server.RouteLogin+"?error=Callback", resp.Header.Get("Location"))
		require.Nil(t, victim.cookie("/", "sso.session-token"))
		_, s := victim.session()
		require.Nil(t, s.User)
		require.Equal(t, 0, h.provider.ExchangeCalls())

		// the browser that started the flow can still finish it
		resp, _ = h.get(callback.String())
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, h.ts.URL+"/", resp.Header.Get("Location"))
		require.Equal(t, 1, h.provider.ExchangeCalls())
		require.Nil(t, h.cookie(server.RouteCallbackPrefix+"keycloak", "sso.state"))
	})

	t.Run("superseded sign in", func(t *testing.T) {
		h := newHarness(t)
		first := h.authorize()
		second := h.authorize()

		resp, _ := h.get(first.String())
		require.Equal(t, server.RouteLogin+"?error=Callback", resp.Header.Get("Location"))
		require.Equal(t, 0, h.provider.ExchangeCalls())

		resp, _ = h.get(second.String())
		require.Equal(t, h.ts.URL+"/", resp.Header.Get("Location"))
		require.Equal(t, 1, h.provider.ExchangeCalls())
	})

	t.Run("callback replay", func(t *testing.T) {
		h := newHarness(t)
		callback := h.authorize()
		cookie := h.cookie(server.RouteCallbackPrefix+"keycloak", "sso.state")
		require.NotNil(t, cookie)

		resp, _ := h.get(callback.String())
		require.Equal(t, h.ts.URL+"/", resp.Header.Get("Location"))

		// same state cookie presented again after the flow was taken
		resp, _ = h.do(http.MethodGet, callback.String(), http.Header{"Cookie": {"sso.state=" + cookie.Value}})
		require.Equal(t, server.RouteLogin+"?error=Callback", resp.Header.Get("Location"))
		require.Equal(t, 1, h.provider.ExchangeCalls())
	})
}

func TestLoginPage(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(server.RouteLogin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `http-equiv="refresh"`)
	require.Contains(t, body, server.RouteSignInPrefix+"keycloak")

	resp, body = h.get(server.RouteLogin + "?error=Callback")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, body, `http-equiv="refresh"`)
	require.Contains(t, body, "Sign in could not be completed")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	resp, body := h.get(server.RouteMetrics)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `sso_signin_total{result="success"} 1`)
}

func TestStaticFiles(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(server.RouteStatic + "styles.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	require.Contains(t, body, "font-family")

	resp, _ = h.get(server.RouteStatic + "missing.css")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
