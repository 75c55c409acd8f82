package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sso:session"

// RedisRepo stores session records in redis as JSON, letting several
// application instances share sessions. Expiry is delegated to redis TTLs.
type RedisRepo struct {
	redis  *redis.Client
	prefix string
}

var _ Repo = (*RedisRepo)(nil)

// NewRedisRepo creates a Repo backed by the given redis client.
func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{
		redis:  client,
		prefix: redisKeyPrefix,
	}
}

// NewRedisRepoFromURL parses a redis:// URL, connects and pings the server.
func NewRedisRepoFromURL(ctx context.Context, redisURL string) (*RedisRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("[session NewRedisRepoFromURL] invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[session NewRedisRepoFromURL] redis unavailable: %w", err)
	}
	return NewRedisRepo(client), nil
}

func (r *RedisRepo) key(sessionID string) string {
	return r.prefix + ":" + sessionID
}

func (r *RedisRepo) Upsert(ctx context.Context, sessionID string, tok *Token, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if tok == nil {
		return fmt.Errorf("token is required")
	}
	encoded, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.redis.Set(ctx, r.key(sessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, sessionID string) (*Token, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}
	raw, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ssoerrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &tok, nil
}

func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if err := r.redis.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close releases the underlying redis connection pool.
func (r *RedisRepo) Close() error {
	return r.redis.Close()
}
