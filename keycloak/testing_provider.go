package keycloak

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-keycloak-sso/internal/utils"
	"github.com/jrsteele09/go-keycloak-sso/oauth2"
	"github.com/stretchr/testify/require"
)

const (
	testRealm    = "test"
	testScope    = "openid profile email"
	testAudience = "account"
)

// TestUser is the identity the TestProvider signs in.
type TestUser struct {
	Subject    string
	Username   string
	GivenName  string
	FamilyName string
	Email      string
}

type testAuthRequest struct {
	nonce       string
	challenge   string
	redirectURI string
}

// TestProvider is an in-process Keycloak realm for tests. It serves the
// realm's openid-connect endpoints (auth, token, logout, userinfo, certs) and
// the account endpoint, signs tokens with a generated RSA key published as a
// JWKS, and lets tests program failures and inspect calls.
type TestProvider struct {
	mu sync.Mutex

	httpServer *httptest.Server
	key        *rsa.PrivateKey
	keyID      string
	jwks       jose.JSONWebKeySet

	clientID      string
	clientSecret  string
	user          TestUser
	realmRoles    []string
	resourceRoles map[string][]string

	accessLifetime  time.Duration
	refreshLifetime time.Duration

	codes         map[string]testAuthRequest
	accessTokens  map[string]struct{}
	refreshTokens map[string]struct{}

	refreshErr   *ProviderError
	refreshDelay time.Duration
	logoutStatus int

	exchangeCalls int
	refreshCalls  int
	logoutCalls   int
	lastLogout    url.Values
}

// StartTestProvider starts a TestProvider which is stopped when the test ends.
func StartTestProvider(t testing.TB) *TestProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &TestProvider{
		key:             key,
		keyID:           uuid.NewString(),
		clientID:        "test-client",
		clientSecret:    "test-secret",
		accessLifetime:  5 * time.Minute,
		refreshLifetime: 30 * time.Minute,
		codes:           map[string]testAuthRequest{},
		accessTokens:    map[string]struct{}{},
		refreshTokens:   map[string]struct{}{},
		resourceRoles:   map[string][]string{},
		user: TestUser{
			Subject:    "f7c9d0a2-5b1e-4c55-9f2e-0c6d4b1a8e33",
			Username:   "jane",
			GivenName:  "Jane",
			FamilyName: "Doe",
			Email:      "jane@example.com",
		},
	}
	p.jwks = jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     p.keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
	p.httpServer = httptest.NewServer(p)
	t.Cleanup(p.Stop)
	return p
}

func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Issuer returns the realm issuer URL.
func (p *TestProvider) Issuer() string {
	return p.httpServer.URL + "/realms/" + testRealm
}

// Config returns a client Config pointing at this provider.
func (p *TestProvider) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Config{
		ProviderID:   "keycloak",
		Issuer:       p.Issuer(),
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Timeout:      5 * time.Second,
	}
}

func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

func (p *TestProvider) SetUser(u TestUser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = u
}

func (p *TestProvider) SetRealmRoles(roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.realmRoles = roles
}

func (p *TestProvider) SetResourceRoles(resource string, roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resourceRoles[resource] = roles
}

// SetTokenLifetimes sets expires_in and refresh_expires_in of issued tokens.
func (p *TestProvider) SetTokenLifetimes(access, refresh time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessLifetime = access
	p.refreshLifetime = refresh
}

// SetRefreshError makes every refresh_token grant fail with the given status
// and OAuth error. A zero status clears it.
func (p *TestProvider) SetRefreshError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == 0 {
		p.refreshErr = nil
		return
	}
	p.refreshErr = &ProviderError{StatusCode: status, Code: code, Description: description}
}

// SetRefreshDelay delays refresh_token grant responses, e.g. to trigger client
// timeouts.
func (p *TestProvider) SetRefreshDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshDelay = d
}

// SetLogoutStatus makes the end-session endpoint answer with status. Zero
// restores the default behaviour.
func (p *TestProvider) SetLogoutStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logoutStatus = status
}

// RevokeRefreshTokens invalidates every refresh token issued so far, as when
// the SSO session is ended in the admin console.
func (p *TestProvider) RevokeRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens = map[string]struct{}{}
}

func (p *TestProvider) ExchangeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls
}

func (p *TestProvider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *TestProvider) LogoutCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logoutCalls
}

// LastLogout returns the query of the most recent end-session request.
func (p *TestProvider) LastLogout() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLogout
}

// IssueTokens mints a valid token set directly, without the browser flow.
func (p *TestProvider) IssueTokens(t testing.TB) *oauth2.TokenResponse {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	resp, err := p.issueLocked("")
	require.NoError(t, err)
	return resp
}

// Authorize plays the browser's part of the authorization request: it follows
// authURL and returns the redirect back to the application, carrying code and
// state.
func (p *TestProvider) Authorize(authURL string) (*url.URL, error) {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("authorization request failed with status %d", resp.StatusCode)
	}
	return url.Parse(resp.Header.Get("Location"))
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	realmPrefix := "/realms/" + testRealm
	path, ok := strings.CutPrefix(req.URL.Path, realmPrefix)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch path {
	case "/protocol/openid-connect/auth":
		p.handleAuth(w, req)
	case "/protocol/openid-connect/token":
		p.handleToken(w, req)
	case "/protocol/openid-connect/logout":
		p.handleLogout(w, req)
	case "/protocol/openid-connect/userinfo":
		p.handleUserInfo(w, req)
	case "/protocol/openid-connect/certs":
		p.mu.Lock()
		defer p.mu.Unlock()
		p.writeJSON(w, http.StatusOK, p.jwks)
	case "/account":
		p.handleAccount(w, req)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	qv := req.URL.Query()
	switch {
	case qv.Get("client_id") != p.clientID:
		http.Error(w, "Client not found.", http.StatusBadRequest)
		return
	case qv.Get("response_type") != "code":
		http.Error(w, "Invalid parameter: response_type", http.StatusBadRequest)
		return
	case qv.Get("redirect_uri") == "":
		http.Error(w, "Invalid parameter: redirect_uri", http.StatusBadRequest)
		return
	case qv.Get("code_challenge_method") != "S256" || qv.Get("code_challenge") == "":
		http.Error(w, "Missing parameter: code_challenge_method", http.StatusBadRequest)
		return
	}

	code := uuid.NewString()
	p.codes[code] = testAuthRequest{
		nonce:       qv.Get("nonce"),
		challenge:   qv.Get("code_challenge"),
		redirectURI: qv.Get("redirect_uri"),
	}

	redirect, err := url.Parse(qv.Get("redirect_uri"))
	if err != nil {
		http.Error(w, "Invalid parameter: redirect_uri", http.StatusBadRequest)
		return
	}
	rq := redirect.Query()
	rq.Set("state", qv.Get("state"))
	rq.Set("session_state", uuid.NewString())
	rq.Set("code", code)
	redirect.RawQuery = rq.Encode()
	http.Redirect(w, req, redirect.String(), http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}

	p.mu.Lock()
	if req.PostForm.Get(oauth2.ParamClientID) != p.clientID || req.PostForm.Get(oauth2.ParamClientSecret) != p.clientSecret {
		p.mu.Unlock()
		p.writeTokenError(w, http.StatusUnauthorized, "unauthorized_client", "Invalid client or Invalid client credentials")
		return
	}

	switch oauth2.GrantType(req.PostForm.Get(oauth2.ParamGrantType)) {
	case oauth2.AuthorizationCodeGrant:
		defer p.mu.Unlock()
		p.exchangeCalls++
		p.handleCodeGrant(w, req)
	case oauth2.RefreshTokenGrant:
		p.refreshCalls++
		delay := p.refreshDelay
		p.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return
			}
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		p.handleRefreshGrant(w, req)
	default:
		p.mu.Unlock()
		p.writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant_type")
	}
}

func (p *TestProvider) handleCodeGrant(w http.ResponseWriter, req *http.Request) {
	code := req.PostForm.Get("code")
	ar, ok := p.codes[code]
	if !ok {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
		return
	}
	delete(p.codes, code)

	if req.PostForm.Get("redirect_uri") != ar.redirectURI {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "Incorrect redirect_uri")
		return
	}
	sum := sha256.Sum256([]byte(req.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != ar.challenge {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed: Invalid code verifier")
		return
	}

	resp, err := p.issueLocked(ar.nonce)
	if err != nil {
		p.writeTokenError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	p.writeJSON(w, http.StatusOK, resp)
}

func (p *TestProvider) handleRefreshGrant(w http.ResponseWriter, req *http.Request) {
	if p.refreshErr != nil {
		p.writeTokenError(w, p.refreshErr.StatusCode, p.refreshErr.Code, p.refreshErr.Description)
		return
	}
	refreshToken := req.PostForm.Get(oauth2.ParamRefreshToken)
	if _, ok := p.refreshTokens[refreshToken]; !ok {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
		return
	}
	delete(p.refreshTokens, refreshToken)

	resp, err := p.issueLocked("")
	if err != nil {
		p.writeTokenError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	p.writeJSON(w, http.StatusOK, resp)
}

func (p *TestProvider) handleLogout(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logoutCalls++
	p.lastLogout = req.URL.Query()

	if p.logoutStatus != 0 {
		p.writeTokenError(w, p.logoutStatus, "invalid_request", "Logout failed")
		return
	}
	if req.URL.Query().Get(oauth2.ParamClientID) != p.clientID {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "Invalid parameter: client_id")
		return
	}
	if redirect := req.URL.Query().Get(oauth2.ParamPostLogoutRedirectURI); redirect != "" {
		http.Redirect(w, req, redirect, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *TestProvider) handleUserInfo(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authorizedLocked(req) {
		p.writeTokenError(w, http.StatusUnauthorized, "invalid_token", "Token verification failed")
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]any{
		"sub":                p.user.Subject,
		"name":               strings.TrimSpace(p.user.GivenName + " " + p.user.FamilyName),
		"given_name":         p.user.GivenName,
		"family_name":        p.user.FamilyName,
		"email":              p.user.Email,
		"preferred_username": p.user.Username,
	})
}

func (p *TestProvider) handleAccount(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authorizedLocked(req) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]any{
		"id":        p.user.Subject,
		"username":  p.user.Username,
		"firstName": p.user.GivenName,
		"lastName":  p.user.FamilyName,
		"email":     p.user.Email,
	})
}

func (p *TestProvider) authorizedLocked(req *http.Request) bool {
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	_, ok = p.accessTokens[token]
	return ok
}

// issueLocked mints and registers a new access, refresh and ID token.
func (p *TestProvider) issueLocked(nonce string) (*oauth2.TokenResponse, error) {
	now := time.Now()
	sessionState := uuid.NewString()

	resourceAccess := map[string]any{}
	for resource, roles := range p.resourceRoles {
		resourceAccess[resource] = map[string]any{"roles": roles}
	}
	access, err := p.sign(jwtlib.MapClaims{
		"jti":                uuid.NewString(),
		"iss":                p.Issuer(),
		"sub":                p.user.Subject,
		"aud":                testAudience,
		"azp":                p.clientID,
		"typ":                "Bearer",
		"iat":                now.Unix(),
		"exp":                now.Add(p.accessLifetime).Unix(),
		"sid":                sessionState,
		"scope":              testScope,
		"preferred_username": p.user.Username,
		"email":              p.user.Email,
		"realm_access":       map[string]any{"roles": p.realmRoles},
		"resource_access":    resourceAccess,
	})
	if err != nil {
		return nil, err
	}

	idClaims := jwtlib.MapClaims{
		"jti":                uuid.NewString(),
		"iss":                p.Issuer(),
		"sub":                p.user.Subject,
		"aud":                p.clientID,
		"azp":                p.clientID,
		"typ":                "ID",
		"iat":                now.Unix(),
		"exp":                now.Add(p.accessLifetime).Unix(),
		"sid":                sessionState,
		"name":               strings.TrimSpace(p.user.GivenName + " " + p.user.FamilyName),
		"given_name":         p.user.GivenName,
		"family_name":        p.user.FamilyName,
		"email":              p.user.Email,
		"preferred_username": p.user.Username,
	}
	if nonce != "" {
		idClaims["nonce"] = nonce
	}
	idToken, err := p.sign(idClaims)
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	p.accessTokens[access] = struct{}{}
	p.refreshTokens[refresh] = struct{}{}

	return &oauth2.TokenResponse{
		AccessToken:      access,
		ExpiresIn:        int64(p.accessLifetime / time.Second),
		RefreshExpiresIn: int64(p.refreshLifetime / time.Second),
		RefreshToken:     utils.Ptr(refresh),
		TokenType:        "Bearer",
		IdToken:          utils.Ptr(idToken),
		SessionState:     sessionState,
		Scope:            testScope,
	}, nil
}

func (p *TestProvider) sign(claims jwtlib.MapClaims) (string, error) {
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = p.keyID
	return token.SignedString(p.key)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, status int, code, description string) {
	p.writeJSON(w, status, oauth2.ErrorResponse{Error: code, ErrorDescription: description})
}
