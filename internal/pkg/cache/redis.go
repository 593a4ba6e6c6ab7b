package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-demo/watchparty/internal/config"
	"github.com/go-demo/watchparty/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

func NewRedis(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.GetAddr()),
		zap.Int("db", cfg.DB),
	)

	return client, nil
}

// Close closes the Redis connection
func Close(client *redis.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Error("Error closing Redis connection", zap.Error(err))
	} else {
		logger.Info("Redis connection closed")
	}
}

// Keys for the watch-party service
const (
	KeyPlaybackState = "watchparty:playback:%s" // watchparty:playback:{roomID}
	KeyRoomHosts     = "watchparty:hosts:%s"    // watchparty:hosts:{roomID}
)

// PlaybackCache keeps the latest committed playback state per room. It is
// written only after a successful commit, so a hit is never older than the
// previous commit; misses fall back to the store.
type PlaybackCache interface {
	Get(ctx context.Context, roomID string) (*model.PlaybackState, error)
	Set(ctx context.Context, state *model.PlaybackState) error
	Delete(ctx context.Context, roomID string) error
}

// RedisPlaybackCache stores playback snapshots as JSON strings
type RedisPlaybackCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPlaybackCache(client *redis.Client, ttl time.Duration) *RedisPlaybackCache {
	return &RedisPlaybackCache{client: client, ttl: ttl}
}

func (c *RedisPlaybackCache) key(roomID string) string {
	return fmt.Sprintf(KeyPlaybackState, roomID)
}

func (c *RedisPlaybackCache) Get(ctx context.Context, roomID string) (*model.PlaybackState, error) {
	data, err := c.client.Get(ctx, c.key(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get playback state from redis: %w", err)
	}

	var state model.PlaybackState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal playback state: %w", err)
	}

	return &state, nil
}

// Set only moves the cached version forward
func (c *RedisPlaybackCache) Set(ctx context.Context, state *model.PlaybackState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal playback state: %w", err)
	}

	err = setIfNewer.Run(ctx, c.client, []string{c.key(state.RoomID)},
		data, state.Version, c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to set playback state in redis: %w", err)
	}

	return nil
}

func (c *RedisPlaybackCache) Delete(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, c.key(roomID)).Err()
}

// setIfNewer writes ARGV[1] unless the cached snapshot has a version >= ARGV[2]
var setIfNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
	local ok, decoded = pcall(cjson.decode, cur)
	if ok and decoded["version"] and tonumber(decoded["version"]) >= tonumber(ARGV[2]) then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)
