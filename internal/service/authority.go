package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/pkg/cache"
	"github.com/go-demo/watchparty/internal/repository"
	"github.com/redis/go-redis/v9"
)

// HostPolicy decides whether a non-owner may drive playback in a room.
type HostPolicy interface {
	IsHost(ctx context.Context, roomID, userID string) (bool, error)
}

// HostGrants is a HostPolicy whose grants can be changed at runtime.
type HostGrants interface {
	HostPolicy
	Grant(ctx context.Context, roomID, userID string) error
	Revoke(ctx context.Context, roomID, userID string) error
	Clear(ctx context.Context, roomID string) error
	List(ctx context.Context, roomID string) ([]string, error)
}

// OwnerOnlyPolicy grants playback control to nobody but the owner
type OwnerOnlyPolicy struct{}

func (OwnerOnlyPolicy) IsHost(ctx context.Context, roomID, userID string) (bool, error) {
	return false, nil
}

// MemoryHostGrants keeps host grants in process memory
type MemoryHostGrants struct {
	mu     sync.RWMutex
	grants map[string]map[string]struct{}
}

func NewMemoryHostGrants() *MemoryHostGrants {
	return &MemoryHostGrants{grants: make(map[string]map[string]struct{})}
}

func (g *MemoryHostGrants) IsHost(ctx context.Context, roomID, userID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.grants[roomID][userID]
	return ok, nil
}

func (g *MemoryHostGrants) Grant(ctx context.Context, roomID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	hosts, ok := g.grants[roomID]
	if !ok {
		hosts = make(map[string]struct{})
		g.grants[roomID] = hosts
	}
	hosts[userID] = struct{}{}
	return nil
}

func (g *MemoryHostGrants) Revoke(ctx context.Context, roomID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	hosts, ok := g.grants[roomID]
	if !ok {
		return nil
	}
	delete(hosts, userID)
	if len(hosts) == 0 {
		delete(g.grants, roomID)
	}
	return nil
}

func (g *MemoryHostGrants) Clear(ctx context.Context, roomID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants, roomID)
	return nil
}

func (g *MemoryHostGrants) List(ctx context.Context, roomID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	hosts := make([]string, 0, len(g.grants[roomID]))
	for userID := range g.grants[roomID] {
		hosts = append(hosts, userID)
	}
	return hosts, nil
}

// RedisHostGrants keeps one Redis set of host user IDs per room
type RedisHostGrants struct {
	client *redis.Client
}

func NewRedisHostGrants(client *redis.Client) *RedisHostGrants {
	return &RedisHostGrants{client: client}
}

func (g *RedisHostGrants) key(roomID string) string {
	return fmt.Sprintf(cache.KeyRoomHosts, roomID)
}

func (g *RedisHostGrants) IsHost(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := g.client.SIsMember(ctx, g.key(roomID), userID).Result()
	if err != nil {
		return false, hostError("host lookup", err)
	}
	return ok, nil
}

func (g *RedisHostGrants) Grant(ctx context.Context, roomID, userID string) error {
	if err := g.client.SAdd(ctx, g.key(roomID), userID).Err(); err != nil {
		return hostError("host grant", err)
	}
	return nil
}

func (g *RedisHostGrants) Revoke(ctx context.Context, roomID, userID string) error {
	if err := g.client.SRem(ctx, g.key(roomID), userID).Err(); err != nil {
		return hostError("host revoke", err)
	}
	return nil
}

func (g *RedisHostGrants) Clear(ctx context.Context, roomID string) error {
	if err := g.client.Del(ctx, g.key(roomID)).Err(); err != nil {
		return hostError("host clear", err)
	}
	return nil
}

func (g *RedisHostGrants) List(ctx context.Context, roomID string) ([]string, error) {
	hosts, err := g.client.SMembers(ctx, g.key(roomID)).Result()
	if err != nil {
		return nil, hostError("host list", err)
	}
	return hosts, nil
}

// hostError marks a Redis failure as transient so callers retry once and
// then report the service as unavailable
func hostError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", repository.ErrTransient, op, err)
}

// AuthorityGate answers who may change a room and its playback. It never
// mutates anything.
type AuthorityGate struct {
	hosts HostPolicy
}

func NewAuthorityGate(hosts HostPolicy) *AuthorityGate {
	if hosts == nil {
		hosts = OwnerOnlyPolicy{}
	}
	return &AuthorityGate{hosts: hosts}
}

// CanMutateRoom covers metadata updates, deletion and host management
func (g *AuthorityGate) CanMutateRoom(room *model.Room, callerID string) bool {
	return room != nil && callerID != "" && room.IsOwnedBy(callerID)
}

// CanMutatePlayback allows the owner and any granted host
func (g *AuthorityGate) CanMutatePlayback(ctx context.Context, room *model.Room, callerID string) (bool, error) {
	if room == nil || callerID == "" {
		return false, nil
	}
	if room.IsOwnedBy(callerID) {
		return true, nil
	}
	return g.hosts.IsHost(ctx, room.ID, callerID)
}

// Grants returns the runtime grant table, or nil when delegation is disabled
func (g *AuthorityGate) Grants() HostGrants {
	grants, _ := g.hosts.(HostGrants)
	return grants
}
