package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsehq/pulse/internal/slogging"
)

// TokenBlacklist tracks revoked token ids (jti claims) in Redis. Entries
// expire together with the token they shadow, so the set stays bounded.
type TokenBlacklist struct {
	redis *redis.Client
}

// NewTokenBlacklist creates a new token blacklist backed by the given client
func NewTokenBlacklist(redisClient *redis.Client) *TokenBlacklist {
	logger := slogging.Get()
	logger.Info("Initializing token blacklist")
	return &TokenBlacklist{redis: redisClient}
}

func blacklistKey(jti string) string {
	return "auth:blacklist:" + jti
}

// Revoke marks a token id as revoked for the given TTL
func (tb *TokenBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	logger := slogging.Get()
	if err := tb.redis.Set(ctx, blacklistKey(jti), "revoked", ttl).Err(); err != nil {
		logger.Error("Failed to blacklist token jti=%s error=%v", jti, err)
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	logger.Info("Token revoked jti=%s ttl_seconds=%d", jti, int(ttl.Seconds()))
	return nil
}

// IsRevoked reports whether a token id has been revoked
func (tb *TokenBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := tb.redis.Get(ctx, blacklistKey(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return true, nil
}
