package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-demo/watchparty/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout is returned when a room lock could not be acquired within
// the configured wait. It is transient so callers retry once.
var ErrLockTimeout = fmt.Errorf("%w: room lock wait timed out", repository.ErrTransient)

// RoomLocker serializes mutations per room. The returned unlock func is safe
// to call more than once.
type RoomLocker interface {
	Lock(ctx context.Context, roomID string) (unlock func(), err error)
}

type roomLock struct {
	sem  *semaphore.Weighted
	refs int
}

// LocalRoomLocker is an in-process lock table keyed by room ID. Entries are
// created on first use and dropped once no caller holds or waits on them.
type LocalRoomLocker struct {
	mu      sync.Mutex
	locks   map[string]*roomLock
	timeout time.Duration
}

func NewLocalRoomLocker(timeout time.Duration) *LocalRoomLocker {
	return &LocalRoomLocker{
		locks:   make(map[string]*roomLock),
		timeout: timeout,
	}
}

func (l *LocalRoomLocker) acquireRef(roomID string) *roomLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[roomID]
	if !ok {
		lk = &roomLock{sem: semaphore.NewWeighted(1)}
		l.locks[roomID] = lk
	}
	lk.refs++
	return lk
}

func (l *LocalRoomLocker) releaseRef(roomID string, lk *roomLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, roomID)
	}
}

// Lock blocks until the room is free, ctx is done, or the acquire timeout
// elapses
func (l *LocalRoomLocker) Lock(ctx context.Context, roomID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lk := l.acquireRef(roomID)

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := lk.sem.Acquire(waitCtx, 1); err != nil {
		l.releaseRef(roomID, lk)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.sem.Release(1)
			l.releaseRef(roomID, lk)
		})
	}, nil
}

// Len returns the number of live lock entries
func (l *LocalRoomLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// RedisRoomLocker extends the local lock table across instances with a
// leased Redis key per room. The local lock is taken first so only one
// goroutine per instance polls Redis.
type RedisRoomLocker struct {
	local     *LocalRoomLocker
	client    *redis.Client
	ttl       time.Duration
	timeout   time.Duration
	keyPrefix string
	logger    *zap.Logger
}

func NewRedisRoomLocker(client *redis.Client, keyPrefix string, ttl, timeout time.Duration, logger *zap.Logger) *RedisRoomLocker {
	return &RedisRoomLocker{
		local:     NewLocalRoomLocker(timeout),
		client:    client,
		ttl:       ttl,
		timeout:   timeout,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

const (
	lockPollMin = 5 * time.Millisecond
	lockPollMax = 100 * time.Millisecond
)

// releaseScript deletes the key only if we still own the lease
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisRoomLocker) Lock(ctx context.Context, roomID string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}

	key := l.keyPrefix + roomID
	token := uuid.New().String()

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	wait := lockPollMin
	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err == nil && ok {
			break
		}
		if err != nil && waitCtx.Err() == nil {
			unlockLocal()
			return nil, fmt.Errorf("%w: redis lock: %v", repository.ErrTransient, err)
		}

		select {
		case <-waitCtx.Done():
			unlockLocal()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		case <-time.After(wait):
		}

		wait *= 2
		if wait > lockPollMax {
			wait = lockPollMax
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must not depend on the caller's ctx, which may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release room lock",
					zap.String("room_id", roomID),
					zap.Error(err),
				)
			}
			unlockLocal()
		})
	}, nil
}
