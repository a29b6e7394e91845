package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupKeyPrefix  = "signal-bridge:webhook:dedup:"
	defaultDedupTTL = 60 * time.Second
)

// RedisDedupGuard keys on the SHA-256 of the raw payload so identical
// webhook retries collapse within the TTL window without storing bodies.
type RedisDedupGuard struct {
	client *redis.Client
	ttl    time.Duration
}

var _ DedupGuard = (*RedisDedupGuard)(nil)

func NewRedisDedupGuard(cacheDSN string, ttl time.Duration) (*RedisDedupGuard, error) {
	if cacheDSN == "" {
		return nil, fmt.Errorf("cache dsn is required")
	}

	options, err := redis.ParseURL(cacheDSN)
	if err != nil {
		return nil, fmt.Errorf("invalid cache dsn: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return &RedisDedupGuard{
		client: redis.NewClient(options),
		ttl:    ttl,
	}, nil
}

func (g *RedisDedupGuard) Register(ctx context.Context, payload []byte) (bool, error) {
	digest := sha256.Sum256(payload)
	key := dedupKeyPrefix + hex.EncodeToString(digest[:])

	return g.client.SetNX(ctx, key, 1, g.ttl).Result()
}

func (g *RedisDedupGuard) Close() error {
	return g.client.Close()
}
