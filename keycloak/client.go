package keycloak

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/jrsteele09/go-keycloak-sso/internal/config"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/jrsteele09/go-keycloak-sso/oauth2"
	"github.com/jrsteele09/go-keycloak-sso/session"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

const (
	contentTypeForm = "application/x-www-form-urlencoded;charset=UTF-8"
	maxBodySize     = 1 << 20
)

var ErrInvalidCertificatePem = errors.New("invalid certificate PEM")

// Config holds what is needed to talk to one Keycloak realm as a confidential
// client.
type Config struct {
	ProviderID   string
	Issuer       string // e.g. https://sso.example.com/realms/my-realm
	ClientID     string
	ClientSecret string
	Scopes       []string
	CAPEM        string
	Timeout      time.Duration
}

// ConfigFrom builds a Config from the application configuration.
func ConfigFrom(c config.Config) Config {
	return Config{
		ProviderID:   c.GetProviderID(),
		Issuer:       c.GetIssuer(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		Scopes:       c.GetScopes(),
		CAPEM:        c.GetProviderCA(),
		Timeout:      c.GetProviderTimeout(),
	}
}

// Endpoints are the realm's OpenID Connect endpoints.
type Endpoints struct {
	Auth     string
	Token    string
	Logout   string
	UserInfo string
	Certs    string
	Account  string
}

// EndpointsFor derives the standard Keycloak endpoints from a realm issuer.
func EndpointsFor(issuer string) Endpoints {
	issuer = strings.TrimRight(issuer, "/")
	oidcBase := issuer + "/protocol/openid-connect"
	return Endpoints{
		Auth:     oidcBase + "/auth",
		Token:    oidcBase + "/token",
		Logout:   oidcBase + "/logout",
		UserInfo: oidcBase + "/userinfo",
		Certs:    oidcBase + "/certs",
		Account:  issuer + "/account",
	}
}

// Client talks to Keycloak on behalf of the application. It is built once at
// startup and is safe for concurrent use.
type Client struct {
	cfg        Config
	endpoints  Endpoints
	httpClient *http.Client
	provider   *oidc.Provider
	verifier   *oidc.IDTokenVerifier
	oauth      xoauth2.Config
}

// NewClient validates cfg and prepares the provider. No network call is made;
// the signing keys are fetched lazily on the first ID token verification.
func NewClient(cfg Config) (*Client, error) {
	const op = "keycloak.NewClient"
	switch {
	case cfg.Issuer == "":
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ssoerrors.ErrMissingConfig)
	case cfg.ClientID == "":
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ssoerrors.ErrMissingConfig)
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("%s: client secret is empty: %w", op, ssoerrors.ErrMissingConfig)
	}
	if cfg.ProviderID == "" {
		cfg.ProviderID = "keycloak"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultProviderTimeout
	}
	cfg.Issuer = strings.TrimRight(cfg.Issuer, "/")

	httpClient, err := newHTTPClient(cfg.CAPEM, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	endpoints := EndpointsFor(cfg.Issuer)
	providerConfig := &oidc.ProviderConfig{
		IssuerURL:   cfg.Issuer,
		AuthURL:     endpoints.Auth,
		TokenURL:    endpoints.Token,
		UserInfoURL: endpoints.UserInfo,
		JWKSURL:     endpoints.Certs,
		Algorithms:  []string{oidc.RS256},
	}
	provider := providerConfig.NewProvider(oidc.ClientContext(context.Background(), httpClient))

	return &Client{
		cfg:        cfg,
		endpoints:  endpoints,
		httpClient: httpClient,
		provider:   provider,
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: xoauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: xoauth2.Endpoint{
				AuthURL:   endpoints.Auth,
				TokenURL:  endpoints.Token,
				AuthStyle: xoauth2.AuthStyleInParams,
			},
		},
	}, nil
}

// newHTTPClient returns a pooled client which trusts caPEM when provided,
// otherwise the system CA chain.
func newHTTPClient(caPEM string, timeout time.Duration) (*http.Client, error) {
	tr := cleanhttp.DefaultPooledTransport()
	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, ErrInvalidCertificatePem
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

func (c *Client) ProviderID() string {
	return c.cfg.ProviderID
}

func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

// AuthURL returns the authorization URL for the code flow with PKCE (S256).
func (c *Client) AuthURL(state, nonce, verifier, redirectURL string) string {
	conf := c.oauth
	conf.RedirectURL = redirectURL
	return conf.AuthCodeURL(state, oidc.Nonce(nonce), xoauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for tokens, verifies the ID token and
// its nonce, and projects the user from the ID token claims.
func (c *Client) Exchange(ctx context.Context, code, verifier, redirectURL, nonce string) (*Account, *session.User, error) {
	const op = "keycloak.Exchange"
	conf := c.oauth
	conf.RedirectURL = redirectURL

	tok, err := conf.Exchange(c.clientContext(ctx), code, xoauth2.VerifierOption(verifier))
	if err != nil {
		var re *xoauth2.RetrieveError
		if errors.As(err, &re) {
			pe := &ProviderError{Endpoint: "token", Code: re.ErrorCode, Description: re.ErrorDescription}
			if re.Response != nil {
				pe.StatusCode = re.Response.StatusCode
			}
			return nil, nil, fmt.Errorf("%s: %w", op, pe)
		}
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrProviderRequest, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, nil, fmt.Errorf("%s: %w", op, ssoerrors.ErrMissingIDToken)
	}
	idToken, err := c.verifier.Verify(c.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrInvalidIDToken, err)
	}
	if idToken.Nonce != nonce {
		return nil, nil, fmt.Errorf("%s: %w", op, ssoerrors.ErrInvalidNonce)
	}

	var claims profileClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrInvalidIDToken, err)
	}

	account := &Account{
		Provider:          c.cfg.ProviderID,
		Type:              "oauth",
		ProviderAccountID: idToken.Subject,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		IDToken:           rawIDToken,
		ExpiresAt:         tok.Expiry,
		RefreshExpiresIn:  extraInt(tok, "refresh_expires_in"),
		TokenType:         tok.TokenType,
		SessionState:      extraString(tok, "session_state"),
		Scope:             extraString(tok, "scope"),
	}
	return account, claims.user(idToken.Subject), nil
}

// Refresh performs the refresh_token grant. A non-2xx answer is returned as a
// *ProviderError carrying the provider's error code and description.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.TokenResponse, error) {
	const op = "keycloak.Refresh"
	form := url.Values{}
	form.Set(oauth2.ParamClientID, c.cfg.ClientID)
	form.Set(oauth2.ParamClientSecret, c.cfg.ClientSecret)
	form.Set(oauth2.ParamGrantType, string(oauth2.RefreshTokenGrant))
	form.Set(oauth2.ParamRefreshToken, refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Token, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", contentTypeForm)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrProviderRequest, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", op, newProviderError("token", resp.StatusCode, body))
	}

	var tr oauth2.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%s: %w: malformed token response: %w", op, ssoerrors.ErrProviderRequest, err)
	}
	return &tr, nil
}

// EndSession calls the end-session endpoint so the provider terminates its SSO
// session. Redirects are not followed: a 3xx answer means the provider has
// accepted the logout.
func (c *Client) EndSession(ctx context.Context, idToken, postLogoutRedirectURL string) error {
	const op = "keycloak.EndSession"
	q := url.Values{}
	q.Set(oauth2.ParamClientID, c.cfg.ClientID)
	q.Set(oauth2.ParamPostLogoutRedirectURI, postLogoutRedirectURL)
	q.Set(oauth2.ParamIDTokenHint, idToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Logout+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		return fmt.Errorf("%s: %w", op, newProviderError("logout", resp.StatusCode, body))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	return nil
}

// UserInfo fetches the OIDC userinfo for accessToken.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*session.User, error) {
	const op = "keycloak.UserInfo"
	info, err := c.provider.UserInfo(c.clientContext(ctx), xoauth2.StaticTokenSource(&xoauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrProviderRequest, err)
	}
	var claims profileClaims
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims.user(info.Subject), nil
}

// LoadUserProfile fetches the profile from the realm's account endpoint.
func (c *Client) LoadUserProfile(ctx context.Context, accessToken string) (*session.User, error) {
	const op = "keycloak.LoadUserProfile"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Account, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ssoerrors.ErrProviderRequest, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w", op, newProviderError("account", resp.StatusCode, body))
	}

	var profile struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("%s: malformed profile: %w", op, err)
	}
	return &session.User{
		ID:        profile.ID,
		Name:      strings.TrimSpace(profile.FirstName + " " + profile.LastName),
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Email:     profile.Email,
		Username:  profile.Username,
	}, nil
}

func newProviderError(endpoint string, status int, body []byte) *ProviderError {
	pe := &ProviderError{Endpoint: endpoint, StatusCode: status}
	var er oauth2.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		pe.Code = er.Error
		pe.Description = er.ErrorDescription
	} else {
		log.Debug().Int("status", status).Str("endpoint", endpoint).Msg("Provider error without an OAuth error body")
	}
	return pe
}

type profileClaims struct {
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

func (p profileClaims) user(subject string) *session.User {
	return &session.User{
		ID:        subject,
		Name:      p.Name,
		FirstName: p.GivenName,
		LastName:  p.FamilyName,
		Email:     p.Email,
		Username:  p.PreferredUsername,
	}
}

func extraString(tok *xoauth2.Token, key string) string {
	s, _ := tok.Extra(key).(string)
	return s
}

// extraInt reads a numeric extra field, which is a float64 for JSON bodies and
// a string for form-encoded ones.
func extraInt(tok *xoauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
