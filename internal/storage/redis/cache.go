package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	goredis "github.com/redis/go-redis/v9"
)

var ErrNotConnected = errors.New("redis client is not initialized")

// Rows that can still change state are kept at most this long, whatever
// TTL the caller asks for.
const maxActiveTTL = 30 * time.Second

// AuthorizationCache is the read-side copy of payment authorizations behind
// GET /v1/holds/{id}. Writers invalidate on every transition.
type AuthorizationCache struct {
	client *Client
}

func NewAuthorizationCache(client *Client) *AuthorizationCache {
	return &AuthorizationCache{client: client}
}

func authorizationCacheKey(id string) string {
	return "payments:authorization:v1:" + id
}

// GetAuthorization returns nil on a miss. An undecodable entry is dropped
// and reported as a miss.
func (c *AuthorizationCache) GetAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	if !c.client.connected() {
		return nil, ErrNotConnected
	}

	key := authorizationCacheKey(id)
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var auth payments.Authorization
	if err := json.Unmarshal(data, &auth); err != nil {
		_ = c.client.rdb.Del(ctx, key).Err()
		return nil, nil
	}
	return &auth, nil
}

func (c *AuthorizationCache) SetAuthorization(ctx context.Context, auth *payments.Authorization, ttl time.Duration) error {
	if !c.client.connected() {
		return ErrNotConnected
	}
	if auth == nil || auth.ID == "" {
		return fmt.Errorf("invalid authorization")
	}
	if !auth.State.IsTerminal() && (ttl <= 0 || ttl > maxActiveTTL) {
		ttl = maxActiveTTL
	}

	payload, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization: %w", err)
	}
	if err := c.client.rdb.Set(ctx, authorizationCacheKey(auth.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (c *AuthorizationCache) Invalidate(ctx context.Context, id string) error {
	if !c.client.connected() {
		return ErrNotConnected
	}
	if err := c.client.rdb.Del(ctx, authorizationCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}
