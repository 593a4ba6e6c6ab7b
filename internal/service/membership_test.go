package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
)

func TestMembershipCoordinator_ConcurrentJoins_RespectCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 20} {
		t.Run(fmt.Sprintf("capacity_%d", capacity), func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			ctx := context.Background()

			room := createTestRoom(t, env, "owner", capacity)

			var (
				wg       sync.WaitGroup
				joined   int64
				full     int64
				start    = make(chan struct{})
				attempts = 2 * capacity
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := env.membership.Join(ctx, room.ID, fmt.Sprintf("viewer-%d", i))
					switch {
					case err == nil:
						atomic.AddInt64(&joined, 1)
					case errors.Is(err, apperrors.ErrRoomFull):
						atomic.AddInt64(&full, 1)
					default:
						t.Errorf("Unexpected join error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			// The owner already holds one seat.
			if joined != int64(capacity-1) {
				t.Errorf("Expected %d successful joins, got %d", capacity-1, joined)
			}
			if joined+full != int64(attempts) {
				t.Errorf("Expected every attempt to resolve, got %d joined + %d full", joined, full)
			}

			count, err := env.store.CountMembers(ctx, room.ID)
			if err != nil {
				t.Fatalf("Failed to count members: %v", err)
			}
			if count > capacity {
				t.Errorf("Capacity exceeded: %d members in room of %d", count, capacity)
			}
			if count != capacity {
				t.Errorf("Expected room to fill to %d, got %d", capacity, count)
			}
		})
	}
}

func TestMembershipCoordinator_ConcurrentDuplicateJoin(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	room := createTestRoom(t, env, "owner", 10)

	var (
		wg      sync.WaitGroup
		ok      int64
		already int64
		start   = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.membership.Join(ctx, room.ID, "same-user")
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, apperrors.ErrAlreadyMember):
				atomic.AddInt64(&already, 1)
			default:
				t.Errorf("Unexpected join error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok != 1 {
		t.Errorf("Expected exactly one successful join, got %d", ok)
	}
	if already != 7 {
		t.Errorf("Expected 7 AlreadyMember rejections, got %d", already)
	}

	members, _ := env.membership.Members(ctx, room.ID)
	count := 0
	for _, m := range members {
		if m.UserID == "same-user" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one member record, got %d", count)
	}
}

func TestMembershipCoordinator_ConcurrentJoinLeave_NoLostUpdates(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	room := createTestRoom(t, env, "owner", 100)

	// Users 0-19 join then leave, users 20-39 only join.
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u-%d", i)
			if _, err := env.membership.Join(ctx, room.ID, userID); err != nil {
				t.Errorf("Join %s: %v", userID, err)
				return
			}
			if i < 20 {
				if err := env.membership.Leave(ctx, room.ID, userID); err != nil {
					t.Errorf("Leave %s: %v", userID, err)
				}
			}
		}(i)
	}
	wg.Wait()

	count, _ := env.store.CountMembers(ctx, room.ID)
	if count != 21 {
		t.Errorf("Expected 21 members (owner + 20), got %d", count)
	}
}

func TestMembershipCoordinator_EventsFollowCommitOrder(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	room := createTestRoom(t, env, "owner", 10)
	env.membership.Join(ctx, room.ID, "a")
	env.membership.Join(ctx, room.ID, "b")
	env.membership.Leave(ctx, room.ID, "a")

	joined := env.events.ofType(EventMemberJoined)
	if len(joined) != 2 {
		t.Fatalf("Expected 2 member_joined events, got %d", len(joined))
	}
	if joined[0].UserID != "a" || joined[0].MemberCount != 2 {
		t.Errorf("Expected first join a with count 2, got %s with %d", joined[0].UserID, joined[0].MemberCount)
	}
	if joined[1].UserID != "b" || joined[1].MemberCount != 3 {
		t.Errorf("Expected second join b with count 3, got %s with %d", joined[1].UserID, joined[1].MemberCount)
	}

	left := env.events.ofType(EventMemberLeft)
	if len(left) != 1 || left[0].MemberCount != 2 {
		t.Errorf("Expected one member_left with count 2, got %+v", left)
	}
}

func TestMembershipCoordinator_DeleteReclaimsLock(t *testing.T) {
	env := newTestEnv(t, nil, NewMemoryHostGrants())
	ctx := context.Background()

	room := createTestRoom(t, env, "owner", 5)
	env.membership.Join(ctx, room.ID, "b")
	if err := env.membership.SetHost(ctx, room.ID, "b", true); err != nil {
		t.Fatalf("Failed to grant host: %v", err)
	}

	if err := env.membership.Delete(ctx, room.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	locker := env.membership.locker.(*LocalRoomLocker)
	if n := locker.Len(); n != 0 {
		t.Errorf("Expected lock table to be empty, got %d entries", n)
	}

	hosts, _ := env.membership.gate.Grants().List(ctx, room.ID)
	if len(hosts) != 0 {
		t.Errorf("Expected host grants to be cleared, got %v", hosts)
	}

	if err := env.membership.Delete(ctx, room.ID); !errors.Is(err, apperrors.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on second delete, got %v", err)
	}
}

func TestMembershipCoordinator_IsMember(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	room := createTestRoom(t, env, "owner", 5)

	ok, err := env.membership.IsMember(ctx, room.ID, "owner")
	if err != nil || !ok {
		t.Errorf("Expected owner to be member, got %v, %v", ok, err)
	}
	ok, err = env.membership.IsMember(ctx, room.ID, "nobody")
	if err != nil || ok {
		t.Errorf("Expected nobody not to be member, got %v, %v", ok, err)
	}
}
