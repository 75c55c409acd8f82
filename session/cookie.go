package session

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"golang.org/x/crypto/hkdf"
)

const cookieKeyInfo = "sso session cookie signing key"

// CookieCodec signs and verifies the session cookie value. The cookie holds a
// compact HS256 JWT whose jti is the session id; the record itself stays in
// the Repo. The signing key is derived from the configured secret with
// HKDF-SHA256 so the raw secret is never used as a MAC key.
type CookieCodec struct {
	key    []byte
	issuer string
}

// NewCookieCodec derives a signing key from secret. issuer is stamped on and
// required from every cookie, typically the application's base URL.
func NewCookieCodec(secret, issuer string) (*CookieCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("[session NewCookieCodec] secret is empty: %w", ssoerrors.ErrMissingConfig)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("[session NewCookieCodec] unable to derive key: %w", err)
	}
	return &CookieCodec{key: key, issuer: issuer}, nil
}

// Encode returns the signed cookie value for sessionID, valid until expires.
func (c *CookieCodec) Encode(sessionID string, expires time.Time) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("sessionID is required")
	}
	claims := jwtlib.RegisteredClaims{
		ID:        sessionID,
		Issuer:    c.issuer,
		IssuedAt:  jwtlib.NewNumericDate(NowTimeFunc()),
		ExpiresAt: jwtlib.NewNumericDate(expires),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies a cookie value and returns the session id it carries.
func (c *CookieCodec) Decode(value string) (string, error) {
	claims := &jwtlib.RegisteredClaims{}
	_, err := jwtlib.ParseWithClaims(value, claims,
		func(*jwtlib.Token) (interface{}, error) { return c.key, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(c.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ssoerrors.ErrInvalidSession, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing session id", ssoerrors.ErrInvalidSession)
	}
	return claims.ID, nil
}
