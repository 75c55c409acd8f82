package keycloak_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/internal/utils"
	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/stretchr/testify/require"
	xoauth2 "golang.org/x/oauth2"
)

const testRedirect = "http://localhost:3001/api/auth/callback/keycloak"

func newTestClient(t *testing.T, tp *keycloak.TestProvider) *keycloak.Client {
	t.Helper()
	c, err := keycloak.NewClient(tp.Config())
	require.NoError(t, err)
	return c
}

func TestEndpointsFor(t *testing.T) {
	e := keycloak.EndpointsFor("https://sso.example.com/realms/acme/")
	require.Equal(t, "https://sso.example.com/realms/acme/protocol/openid-connect/auth", e.Auth)
	require.Equal(t, "https://sso.example.com/realms/acme/protocol/openid-connect/token", e.Token)
	require.Equal(t, "https://sso.example.com/realms/acme/protocol/openid-connect/logout", e.Logout)
	require.Equal(t, "https://sso.example.com/realms/acme/protocol/openid-connect/userinfo", e.UserInfo)
	require.Equal(t, "https://sso.example.com/realms/acme/protocol/openid-connect/certs", e.Certs)
	require.Equal(t, "https://sso.example.com/realms/acme/account", e.Account)
}

func TestNewClient_Validation(t *testing.T) {
	valid := keycloak.Config{Issuer: "https://sso.example.com/realms/acme", ClientID: "app", ClientSecret: "s3cret"}

	tests := []struct {
		name   string
		modify func(c *keycloak.Config)
		want   error
	}{
		{"missing issuer", func(c *keycloak.Config) { c.Issuer = "" }, ssoerrors.ErrMissingConfig},
		{"missing client id", func(c *keycloak.Config) { c.ClientID = "" }, ssoerrors.ErrMissingConfig},
		{"missing client secret", func(c *keycloak.Config) { c.ClientSecret = "" }, ssoerrors.ErrMissingConfig},
		{"bad CA", func(c *keycloak.Config) { c.CAPEM = "not a pem" }, keycloak.ErrInvalidCertificatePem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			_, err := keycloak.NewClient(cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}

	c, err := keycloak.NewClient(valid)
	require.NoError(t, err)
	require.Equal(t, "keycloak", c.ProviderID())
	require.Equal(t, "app", c.ClientID())
}

func TestClient_AuthURL(t *testing.T) {
	tp := keycloak.StartTestProvider(t)
	c := newTestClient(t, tp)

	verifier := xoauth2.GenerateVerifier()
	raw := c.AuthURL("state-1", "nonce-1", verifier, testRedirect)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	require.Equal(t, c.Endpoints().Auth, u.Scheme+"://"+u.Host+u.Path)
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "openid profile email", q.Get("scope"))
	require.Equal(t, "state-1", q.Get("state"))
	require.Equal(t, "nonce-1", q.Get("nonce"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, xoauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
	require.Equal(t, testRedirect, q.Get("redirect_uri"))
}

func signIn(t *testing.T, tp *keycloak.TestProvider, c *keycloak.Client, nonce string) (*keycloak.Account, error) {
	t.Helper()
	verifier := xoauth2.GenerateVerifier()
	callback, err := tp.Authorize(c.AuthURL(uuid.NewString(), nonce, verifier, testRedirect))
	require.NoError(t, err)
	account, user, err := c.Exchange(context.Background(), callback.Query().Get("code"), verifier, testRedirect, nonce)
	if err == nil {
		require.Equal(t, "jane@example.com", user.Email)
		require.Equal(t, "jane", user.Username)
		require.Equal(t, "Jane Doe", user.Name)
	}
	return account, err
}

func TestClient_Exchange(t *testing.T) {
	tp := keycloak.StartTestProvider(t)
	c := newTestClient(t, tp)

	t.Run("success", func(t *testing.T) {
		before := time.Now()
		account, err := signIn(t, tp, c, "nonce-ok")
		require.NoError(t, err)
		require.Equal(t, "keycloak", account.Provider)
		require.NotEmpty(t, account.AccessToken)
		require.NotEmpty(t, account.RefreshToken)
		require.NotEmpty(t, account.IDToken)
		require.EqualValues(t, 1800, account.RefreshExpiresIn)
		require.WithinDuration(t, before.Add(5*time.Minute), account.ExpiresAt, 5*time.Second)
		require.NotEmpty(t, account.ProviderAccountID)
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		verifier := xoauth2.GenerateVerifier()
		callback, err := tp.Authorize(c.AuthURL("s", "nonce-a", verifier, testRedirect))
		require.NoError(t, err)
		_, _, err = c.Exchange(context.Background(), callback.Query().Get("code"), verifier, testRedirect, "nonce-b")
		require.ErrorIs(t, err, ssoerrors.ErrInvalidNonce)
	})

	t.Run("wrong verifier", func(t *testing.T) {
		callback, err := tp.Authorize(c.AuthURL("s", "n", xoauth2.GenerateVerifier(), testRedirect))
		require.NoError(t, err)
		_, _, err = c.Exchange(context.Background(), callback.Query().Get("code"), xoauth2.GenerateVerifier(), testRedirect, "n")
		var pe *keycloak.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, "invalid_grant", pe.Code)
		require.Equal(t, http.StatusBadRequest, pe.StatusCode)
	})
}

func TestClient_Refresh(t *testing.T) {
	tp := keycloak.StartTestProvider(t)
	c := newTestClient(t, tp)

	t.Run("rotates tokens", func(t *testing.T) {
		issued := tp.IssueTokens(t)
		resp, err := c.Refresh(context.Background(), utils.Value(issued.RefreshToken))
		require.NoError(t, err)
		require.NotEqual(t, issued.AccessToken, resp.AccessToken)
		require.NotEqual(t, utils.Value(issued.RefreshToken), utils.Value(resp.RefreshToken))
		require.EqualValues(t, 300, resp.ExpiresIn)
		require.EqualValues(t, 1800, resp.RefreshExpiresIn)

		// the old refresh token is no longer active
		_, err = c.Refresh(context.Background(), utils.Value(issued.RefreshToken))
		var pe *keycloak.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, "invalid_grant", pe.ErrorCode())
		require.Equal(t, "Token is not active", pe.ErrorDescription())
		require.ErrorIs(t, err, ssoerrors.ErrProviderRequest)
	})

	t.Run("programmed provider error", func(t *testing.T) {
		tp.SetRefreshError(http.StatusBadRequest, "invalid_grant", "Session not active")
		t.Cleanup(func() { tp.SetRefreshError(0, "", "") })

		_, err := c.Refresh(context.Background(), utils.Value(tp.IssueTokens(t).RefreshToken))
		var pe *keycloak.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, "Session not active", pe.Description)
	})

	t.Run("timeout", func(t *testing.T) {
		cfg := tp.Config()
		cfg.Timeout = 100 * time.Millisecond
		slow, err := keycloak.NewClient(cfg)
		require.NoError(t, err)

		tp.SetRefreshDelay(2 * time.Second)
		t.Cleanup(func() { tp.SetRefreshDelay(0) })

		_, err = slow.Refresh(context.Background(), utils.Value(tp.IssueTokens(t).RefreshToken))
		require.ErrorIs(t, err, ssoerrors.ErrProviderRequest)
	})
}

func TestClient_EndSession(t *testing.T) {
	tp := keycloak.StartTestProvider(t)
	c := newTestClient(t, tp)
	issued := tp.IssueTokens(t)

	err := c.EndSession(context.Background(), utils.Value(issued.IdToken), "http://localhost:3001/login")
	require.NoError(t, err)
	require.Equal(t, 1, tp.LogoutCalls())

	q := tp.LastLogout()
	require.Equal(t, "test-client", q.Get("client_id"))
	require.Equal(t, "http://localhost:3001/login", q.Get("post_logout_redirect_uri"))
	require.Equal(t, utils.Value(issued.IdToken), q.Get("id_token_hint"))

	tp.SetLogoutStatus(http.StatusBadRequest)
	err = c.EndSession(context.Background(), utils.Value(issued.IdToken), "http://localhost:3001/login")
	var pe *keycloak.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusBadRequest, pe.StatusCode)
}

func TestClient_UserProfile(t *testing.T) {
	tp := keycloak.StartTestProvider(t)
	c := newTestClient(t, tp)
	access := tp.IssueTokens(t).AccessToken

	t.Run("userinfo", func(t *testing.T) {
		u, err := c.UserInfo(context.Background(), access)
		require.NoError(t, err)
		require.Equal(t, "jane@example.com", u.Email)
		require.Equal(t, "Jane", u.FirstName)
	})

	t.Run("account", func(t *testing.T) {
		u, err := c.LoadUserProfile(context.Background(), access)
		require.NoError(t, err)
		require.Equal(t, "jane", u.Username)
		require.Equal(t, "Doe", u.LastName)
		require.Equal(t, "Jane Doe", u.Name)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := c.LoadUserProfile(context.Background(), "nope")
		var pe *keycloak.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	})
}
