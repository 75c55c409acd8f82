package adapter_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-keycloak-sso/adapter"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/internal/utils"
	"github.com/jrsteele09/go-keycloak-sso/keycloak"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/stretchr/testify/require"
)

const redirectURL = "http://localhost:3001/callback"

func newAdapter(t *testing.T) (*adapter.Keycloak, *keycloak.TestProvider) {
	t.Helper()
	tp := keycloak.StartTestProvider(t)
	tp.SetRealmRoles("user")
	tp.SetResourceRoles("test-client", "editor")
	client, err := keycloak.NewClient(tp.Config())
	require.NoError(t, err)
	kc, err := adapter.New(client)
	require.NoError(t, err)
	return kc, tp
}

func login(t *testing.T, kc *adapter.Keycloak, tp *keycloak.TestProvider) {
	t.Helper()
	authURL, err := kc.Login(context.Background(), redirectURL)
	require.NoError(t, err)
	callback, err := tp.Authorize(authURL)
	require.NoError(t, err)
	q := callback.Query()
	require.NoError(t, kc.CompleteLogin(context.Background(), q.Get("state"), q.Get("code")))
}

func TestNew(t *testing.T) {
	_, err := adapter.New(nil)
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	kc, tp := newAdapter(t)
	require.False(t, kc.IsLoggedIn())
	require.Nil(t, kc.Token())

	login(t, kc, tp)
	require.True(t, kc.IsLoggedIn())
	tok := kc.Token()
	require.NotNil(t, tok)
	require.Equal(t, "keycloak", tok.Provider)
	require.NotEmpty(t, tok.RefreshToken)
	require.Equal(t, "jane@example.com", tok.User.Email)
	require.WithinDuration(t, time.Now().Add(30*time.Minute), tok.RefreshTokenExpires, 5*time.Second)

	require.True(t, kc.HasRealmRole("admin", "user"))
	require.False(t, kc.HasRealmRole("admin"))
	require.True(t, kc.HasResourceRole("", "editor"))
	require.True(t, kc.HasResourceRole("test-client", "editor"))
	require.False(t, kc.HasResourceRole("other-client", "editor"))

	t.Run("token is a copy", func(t *testing.T) {
		kc.Token().AccessToken = "changed"
		require.NotEqual(t, "changed", kc.Token().AccessToken)
	})
}

func TestCompleteLogin_State(t *testing.T) {
	kc, tp := newAdapter(t)

	err := kc.CompleteLogin(context.Background(), "state", "code")
	require.ErrorIs(t, err, ssoerrors.ErrInvalidState)

	authURL, err := kc.Login(context.Background(), redirectURL)
	require.NoError(t, err)
	callback, err := tp.Authorize(authURL)
	require.NoError(t, err)

	err = kc.CompleteLogin(context.Background(), "forged", callback.Query().Get("code"))
	require.ErrorIs(t, err, ssoerrors.ErrInvalidState)
	require.Equal(t, 0, tp.ExchangeCalls())

	_, err = kc.Login(context.Background(), "")
	require.ErrorIs(t, err, ssoerrors.ErrMissingConfig)
}

func TestUpdateToken(t *testing.T) {
	t.Run("still valid", func(t *testing.T) {
		kc, tp := newAdapter(t)
		login(t, kc, tp)
		refreshed, err := kc.UpdateToken(context.Background(), 0)
		require.NoError(t, err)
		require.False(t, refreshed)
		require.Equal(t, 0, tp.RefreshCalls())
	})

	t.Run("expiring within margin", func(t *testing.T) {
		kc, tp := newAdapter(t)
		login(t, kc, tp)
		before := kc.Token()

		refreshed, err := kc.UpdateToken(context.Background(), 10*time.Minute)
		require.NoError(t, err)
		require.True(t, refreshed)
		require.Equal(t, 1, tp.RefreshCalls())
		after := kc.Token()
		require.NotEqual(t, before.AccessToken, after.AccessToken)
		require.NotEqual(t, before.RefreshToken, after.RefreshToken)
		require.True(t, after.AccessTokenExpires.After(time.Now()))
	})

	t.Run("negative forces refresh", func(t *testing.T) {
		kc, tp := newAdapter(t)
		login(t, kc, tp)
		refreshed, err := kc.UpdateToken(context.Background(), -1)
		require.NoError(t, err)
		require.True(t, refreshed)
	})

	t.Run("failure logs out", func(t *testing.T) {
		kc, tp := newAdapter(t)
		login(t, kc, tp)
		tp.SetRefreshError(http.StatusBadRequest, "invalid_grant", "Session not active")

		refreshed, err := kc.UpdateToken(context.Background(), -1)
		require.ErrorIs(t, err, ssoerrors.ErrRefreshAccessToken)
		require.False(t, refreshed)
		require.False(t, kc.IsLoggedIn())
	})

	t.Run("logged out", func(t *testing.T) {
		kc, _ := newAdapter(t)
		_, err := kc.UpdateToken(context.Background(), 0)
		require.ErrorIs(t, err, ssoerrors.ErrSessionNotFound)
	})
}

func TestInit(t *testing.T) {
	t.Run("no record", func(t *testing.T) {
		kc, _ := newAdapter(t)
		ok, err := kc.Init(context.Background(), nil)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("adopts and refreshes", func(t *testing.T) {
		kc, tp := newAdapter(t)
		issued := tp.IssueTokens(t)
		existing := &session.Token{
			Provider:            "keycloak",
			AccessToken:         issued.AccessToken,
			RefreshToken:        utils.Value(issued.RefreshToken),
			IDToken:             utils.Value(issued.IdToken),
			AccessTokenExpires:  time.Now().Add(-time.Second),
			RefreshTokenExpires: time.Now().Add(30 * time.Minute),
		}
		ok, err := kc.Init(context.Background(), existing)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 1, tp.RefreshCalls())
		require.NotEqual(t, existing.AccessToken, kc.Token().AccessToken)
	})

	t.Run("expired refresh token", func(t *testing.T) {
		kc, tp := newAdapter(t)
		issued := tp.IssueTokens(t)
		existing := &session.Token{
			Provider:            "keycloak",
			AccessToken:         issued.AccessToken,
			RefreshToken:        utils.Value(issued.RefreshToken),
			AccessTokenExpires:  time.Now().Add(-time.Minute),
			RefreshTokenExpires: time.Now().Add(-time.Second),
		}
		ok, err := kc.Init(context.Background(), existing)
		require.ErrorIs(t, err, ssoerrors.ErrRefreshExpired)
		require.False(t, ok)
		require.False(t, kc.IsLoggedIn())
		require.Equal(t, 0, tp.RefreshCalls())
	})

	t.Run("errored record", func(t *testing.T) {
		kc, tp := newAdapter(t)
		existing := (&session.Token{Provider: "keycloak"}).WithError(session.ErrorRefreshAccessToken, "failed")
		ok, err := kc.Init(context.Background(), existing)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 0, tp.RefreshCalls())
	})
}

func TestLogout(t *testing.T) {
	kc, tp := newAdapter(t)
	require.NoError(t, kc.Logout(context.Background(), redirectURL))
	require.Equal(t, 0, tp.LogoutCalls())

	login(t, kc, tp)
	idToken := kc.Token().IDToken
	require.NoError(t, kc.Logout(context.Background(), redirectURL))
	require.False(t, kc.IsLoggedIn())
	require.Equal(t, 1, tp.LogoutCalls())
	require.Equal(t, idToken, tp.LastLogout().Get("id_token_hint"))

	t.Run("provider failure still logs out locally", func(t *testing.T) {
		login(t, kc, tp)
		tp.SetLogoutStatus(http.StatusInternalServerError)
		err := kc.Logout(context.Background(), redirectURL)
		require.ErrorIs(t, err, ssoerrors.ErrLogout)
		require.False(t, kc.IsLoggedIn())
	})
}

func TestLoadUserProfile(t *testing.T) {
	kc, tp := newAdapter(t)
	_, err := kc.LoadUserProfile(context.Background())
	require.ErrorIs(t, err, ssoerrors.ErrSessionNotFound)

	login(t, kc, tp)
	user, err := kc.LoadUserProfile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "jane", user.Username)
	require.Equal(t, "Jane", user.FirstName)
	require.Equal(t, "jane", kc.Token().User.Username)
}

func TestConcurrentUpdateToken(t *testing.T) {
	kc, tp := newAdapter(t)
	login(t, kc, tp)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = kc.UpdateToken(context.Background(), 10*time.Minute)
			_ = kc.HasRealmRole("user")
		}()
	}
	wg.Wait()
	require.True(t, kc.IsLoggedIn())
	require.Equal(t, 8, tp.RefreshCalls())
}
