package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Locker hands out short-lived named locks so only one replica runs a job
// at a time.
type Locker struct {
	client *Client
}

func NewLocker(client *Client) *Locker {
	return &Locker{client: client}
}

func keyLock(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

func keyHeartbeat(name string) string {
	return fmt.Sprintf("heartbeat:%s", name)
}

// Only the holder's token may delete the lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire returns a release token when the lock was free.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if !l.client.connected() {
		return "", false, ErrNotConnected
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	token := uuid.New().String()
	ok, err := l.client.rdb.SetNX(ctx, keyLock(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis SETNX failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, name, token string) error {
	if !l.client.connected() {
		return ErrNotConnected
	}
	if err := releaseScript.Run(ctx, l.client.rdb, []string{keyLock(name)}, token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

// Beat records that the named worker completed a run at ts.
func (l *Locker) Beat(ctx context.Context, name string, ts time.Time, ttl time.Duration) error {
	if !l.client.connected() {
		return ErrNotConnected
	}
	value := strconv.FormatInt(ts.UnixMilli(), 10)
	if err := l.client.rdb.Set(ctx, keyHeartbeat(name), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET heartbeat failed: %w", err)
	}
	return nil
}

// LastBeat returns the zero time when no replica reported recently.
func (l *Locker) LastBeat(ctx context.Context, name string) (time.Time, error) {
	if !l.client.connected() {
		return time.Time{}, ErrNotConnected
	}
	value, err := l.client.rdb.Get(ctx, keyHeartbeat(name)).Result()
	if err != nil {
		if err == goredis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis GET heartbeat failed: %w", err)
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid heartbeat %q: %w", value, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
