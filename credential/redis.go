package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/redis/go-redis/v9"
)

// Redis keeps the token in a redis string. No TTL is set: expiry belongs to the backend.
type Redis struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

var _ iam.CredentialStore = (*Redis)(nil)

// NewRedis constructs a redis-backed credential store.
func NewRedis(cfg Config) (*Redis, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("iam/credential: redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("iam/credential: redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("iam/credential: redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "jobboard:credential:"
	}
	return &Redis{client: client, key: prefix + cfg.key(), logger: cfg.logger()}, nil
}

func (r *Redis) Save(ctx context.Context, token string) error {
	if err := r.client.Set(ctx, r.key, token, 0).Err(); err != nil {
		return fmt.Errorf("iam/credential: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (string, bool) {
	token, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.logger.Warn("credential redis read failed", "key", r.key, "error", err)
		return "", false
	}
	return token, true
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("iam/credential: redis del: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
