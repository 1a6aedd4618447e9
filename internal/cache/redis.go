package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/redis/go-redis/v9"
)

// RelationCache caches the isActive answer for (actor, target, kind).
// Every entry carries the relation version it was read at; Set never replaces
// an entry with a newer version, so a slow reader cannot undo a committed toggle.
type RelationCache interface {
	Get(ctx context.Context, actorID, targetID string, kind models.RelationKind) (active bool, found bool, err error)
	Set(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool, version int64) error
}

// RedisRelationCache implements RelationCache on Redis
type RedisRelationCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a Redis client with connection pooling and verifies it with PING
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		DialTimeout:  3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisRelationCache creates a RedisRelationCache
func NewRedisRelationCache(client *redis.Client, ttl time.Duration) *RedisRelationCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisRelationCache{client: client, ttl: ttl}
}

func relationKey(actorID, targetID string, kind models.RelationKind) string {
	return "relation:" + models.RelationKey(actorID, targetID, kind)
}

// setIfNewer stores ARGV[1]:ARGV[2] unless the current entry holds a higher version
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local v = tonumber(string.match(cur, '^(%d+):'))
	if v and v > tonumber(ARGV[1]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
return 1
`)

func encodeEntry(active bool) string {
	if active {
		return "1"
	}
	return "0"
}

// decodeEntry parses "<version>:<0|1>"
func decodeEntry(v string) (active bool, version int64, err error) {
	ver, flag, ok := strings.Cut(v, ":")
	if !ok || (flag != "0" && flag != "1") {
		return false, 0, fmt.Errorf("malformed relation cache entry %q", v)
	}
	version, err = strconv.ParseInt(ver, 10, 64)
	if err != nil {
		return false, 0, fmt.Errorf("malformed relation cache entry %q: %w", v, err)
	}
	return flag == "1", version, nil
}

// Get returns found=false on a miss
func (c *RedisRelationCache) Get(ctx context.Context, actorID, targetID string, kind models.RelationKind) (bool, bool, error) {
	v, err := c.client.Get(ctx, relationKey(actorID, targetID, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	active, _, err := decodeEntry(v)
	if err != nil {
		return false, false, err
	}
	return active, true, nil
}

// Set stores the active flag read at version with the cache TTL.
// The write is skipped when the cached entry is already newer.
func (c *RedisRelationCache) Set(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool, version int64) error {
	key := relationKey(actorID, targetID, kind)
	return setIfNewer.Run(ctx, c.client, []string{key}, version, encodeEntry(active), c.ttl.Milliseconds()).Err()
}
