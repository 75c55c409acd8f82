package session

import (
	"context"
	"time"
)

// Repo stores session token records keyed by an opaque session id. The id is
// the only thing that travels in the session cookie.
type Repo interface {
	Upsert(ctx context.Context, sessionID string, tok *Token, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*Token, error)
	Delete(ctx context.Context, sessionID string) error
}

// TTL returns how long the record should be kept: until its refresh token
// expires, capped at maxAge. Records without a refresh expiry keep maxAge.
func TTL(tok *Token, maxAge time.Duration) time.Duration {
	if tok == nil || tok.RefreshTokenExpires.IsZero() {
		return maxAge
	}
	ttl := tok.RefreshTokenExpires.Sub(NowTimeFunc())
	switch {
	case ttl <= 0:
		// keep errored records briefly so the sign-out path can still read them
		return time.Minute
	case ttl > maxAge:
		return maxAge
	default:
		return ttl
	}
}
