package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-demo/watchparty/internal/model"
)

// 使用有效的 UUID 格式作為不存在的 ID
const roomNonExistentUUID = "00000000-0000-0000-0000-000000000000"

// storeFactory returns a fresh store and the prefix its owner IDs must carry
type storeFactory func(t *testing.T) (RoomStore, string)

// runRoomStoreSuite checks the behavior every RoomStore implementation shares
func runRoomStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("CreateRoom", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, false)

		if room.ID == "" {
			t.Error("Expected room ID to be set")
		}
		if room.CreatedAt.IsZero() {
			t.Error("Expected created_at to be set")
		}

		ctx := context.Background()
		owner, err := store.GetMember(ctx, room.ID, room.OwnerID)
		if err != nil {
			t.Fatalf("Failed to get owner member: %v", err)
		}
		if owner.Role != model.MemberRoleOwner {
			t.Errorf("Expected role OWNER, got %s", owner.Role)
		}

		state, err := store.GetPlaybackState(ctx, room.ID)
		if err != nil {
			t.Fatalf("Failed to get playback state: %v", err)
		}
		if state.Version != 0 || state.IsPlaying || state.MediaID.Valid {
			t.Errorf("Expected initial playback state, got %+v", state)
		}
	})

	t.Run("GetRoom_NotFound", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		if _, err := store.GetRoom(ctx, roomNonExistentUUID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
		if _, err := store.GetRoomWithMemberCount(ctx, roomNonExistentUUID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
		if _, err := store.GetPlaybackState(ctx, roomNonExistentUUID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
	})

	t.Run("UpdateRoom", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, false)
		ctx := context.Background()

		room.Name = prefix + "_renamed"
		room.Description = sql.NullString{String: "updated", Valid: true}
		room.IsPrivate = true
		room.MaxCapacity = 8
		if err := store.UpdateRoom(ctx, room); err != nil {
			t.Fatalf("Failed to update room: %v", err)
		}

		got, err := store.GetRoom(ctx, room.ID)
		if err != nil {
			t.Fatalf("Failed to get room: %v", err)
		}
		if got.Name != prefix+"_renamed" || got.GetDescription() != "updated" || !got.IsPrivate || got.MaxCapacity != 8 {
			t.Errorf("Update not persisted, got %+v", got)
		}

		missing := &model.Room{ID: roomNonExistentUUID, Name: "x", MaxCapacity: 1}
		if err := store.UpdateRoom(ctx, missing); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
	})

	t.Run("DeleteRoom_Cascades", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, false)
		ctx := context.Background()

		store.AddMember(ctx, &model.RoomMember{RoomID: room.ID, UserID: prefix + "_viewer", Role: model.MemberRoleViewer})

		if err := store.DeleteRoom(ctx, room.ID); err != nil {
			t.Fatalf("Failed to delete room: %v", err)
		}

		if _, err := store.GetRoom(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound after delete, got %v", err)
		}
		if _, err := store.GetPlaybackState(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected playback state to be deleted, got %v", err)
		}
		if _, err := store.GetMember(ctx, room.ID, prefix+"_viewer"); !errors.Is(err, ErrNotRoomMember) {
			t.Errorf("Expected membership to be deleted, got %v", err)
		}
		if err := store.DeleteRoom(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound on second delete, got %v", err)
		}
	})

	t.Run("AddMember", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 2, false)
		ctx := context.Background()

		viewer := &model.RoomMember{RoomID: room.ID, UserID: prefix + "_viewer", Role: model.MemberRoleViewer}
		if err := store.AddMember(ctx, viewer); err != nil {
			t.Fatalf("Failed to add member: %v", err)
		}
		if viewer.ID == "" || viewer.JoinedAt.IsZero() {
			t.Error("Expected member ID and joined_at to be set")
		}

		dup := &model.RoomMember{RoomID: room.ID, UserID: prefix + "_viewer", Role: model.MemberRoleViewer}
		if err := store.AddMember(ctx, dup); !errors.Is(err, ErrAlreadyRoomMember) {
			t.Errorf("Expected ErrAlreadyRoomMember, got %v", err)
		}

		extra := &model.RoomMember{RoomID: room.ID, UserID: prefix + "_extra", Role: model.MemberRoleViewer}
		if err := store.AddMember(ctx, extra); !errors.Is(err, ErrRoomFull) {
			t.Errorf("Expected ErrRoomFull, got %v", err)
		}

		ghost := &model.RoomMember{RoomID: roomNonExistentUUID, UserID: prefix + "_viewer", Role: model.MemberRoleViewer}
		if err := store.AddMember(ctx, ghost); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}

		count, _ := store.CountMembers(ctx, room.ID)
		if count != 2 {
			t.Errorf("Expected 2 members, got %d", count)
		}
	})

	t.Run("AddMember_ConcurrentCapacity", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 3, false)
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		added := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m := &model.RoomMember{RoomID: room.ID, UserID: prefix + "_v" + string(rune('a'+i)), Role: model.MemberRoleViewer}
				if err := store.AddMember(ctx, m); err == nil {
					mu.Lock()
					added++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if added != 2 {
			t.Errorf("Expected exactly 2 joins to succeed, got %d", added)
		}
		if count, _ := store.CountMembers(ctx, room.ID); count != 3 {
			t.Errorf("Expected 3 members, got %d", count)
		}
	})

	t.Run("RemoveMember", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, false)
		ctx := context.Background()

		store.AddMember(ctx, &model.RoomMember{RoomID: room.ID, UserID: prefix + "_viewer", Role: model.MemberRoleViewer})

		if err := store.RemoveMember(ctx, room.ID, prefix+"_viewer"); err != nil {
			t.Fatalf("Failed to remove member: %v", err)
		}
		if err := store.RemoveMember(ctx, room.ID, prefix+"_viewer"); !errors.Is(err, ErrNotRoomMember) {
			t.Errorf("Expected ErrNotRoomMember, got %v", err)
		}
	})

	t.Run("ListMembers_OwnerFirst", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, false)
		ctx := context.Background()

		store.AddMember(ctx, &model.RoomMember{RoomID: room.ID, UserID: prefix + "_a", Role: model.MemberRoleViewer})
		store.AddMember(ctx, &model.RoomMember{RoomID: room.ID, UserID: prefix + "_b", Role: model.MemberRoleViewer})

		members, err := store.ListMembers(ctx, room.ID)
		if err != nil {
			t.Fatalf("Failed to list members: %v", err)
		}
		if len(members) != 3 {
			t.Fatalf("Expected 3 members, got %d", len(members))
		}
		if !members[0].IsOwner() {
			t.Errorf("Expected owner first, got %s", members[0].UserID)
		}
	})

	t.Run("ListPublic_ExcludesPrivate", func(t *testing.T) {
		store, prefix := newStore(t)
		public := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, false)
		private := CreateIsolatedTestRoom(t, store, prefix, "other", 5, true)

		rooms, err := store.ListPublic(context.Background(), 1000, 0)
		if err != nil {
			t.Fatalf("Failed to list public rooms: %v", err)
		}

		var foundPublic, foundPrivate bool
		for _, r := range rooms {
			switch r.ID {
			case public.ID:
				foundPublic = true
				if r.MemberCount != 1 {
					t.Errorf("Expected member count 1, got %d", r.MemberCount)
				}
			case private.ID:
				foundPrivate = true
			}
		}
		if !foundPublic {
			t.Error("Expected public room to be listed")
		}
		if foundPrivate {
			t.Error("Expected private room to be hidden")
		}
	})

	t.Run("ListByUserID", func(t *testing.T) {
		store, prefix := newStore(t)
		room1 := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, true)
		room2 := CreateIsolatedTestRoom(t, store, prefix, "other", 5, false)
		ctx := context.Background()

		store.AddMember(ctx, &model.RoomMember{RoomID: room2.ID, UserID: room1.OwnerID, Role: model.MemberRoleViewer})

		rooms, err := store.ListByUserID(ctx, room1.OwnerID, 10, 0)
		if err != nil {
			t.Fatalf("Failed to list user rooms: %v", err)
		}
		if len(rooms) != 2 {
			t.Fatalf("Expected 2 rooms, got %d", len(rooms))
		}
		// Most recently joined first
		if rooms[0].ID != room2.ID {
			t.Errorf("Expected %s first, got %s", room2.ID, rooms[0].ID)
		}

		page, _ := store.ListByUserID(ctx, room1.OwnerID, 1, 1)
		if len(page) != 1 || page[0].ID != room1.ID {
			t.Errorf("Expected second page to hold %s", room1.ID)
		}
	})

	t.Run("UpdatePlaybackState_CompareAndSet", func(t *testing.T) {
		store, prefix := newStore(t)
		room := CreateIsolatedTestRoom(t, store, prefix, "owner", 5, false)
		ctx := context.Background()

		next := &model.PlaybackState{
			RoomID:          room.ID,
			MediaID:         sql.NullString{String: "movie-1", Valid: true},
			PositionSeconds: 12.5,
			DurationSeconds: sql.NullFloat64{Float64: 100, Valid: true},
			IsPlaying:       true,
			Version:         1,
			LastUpdatedBy:   sql.NullString{String: room.OwnerID, Valid: true},
			UpdatedAt:       time.Now().UTC().Truncate(time.Microsecond),
		}
		if err := store.UpdatePlaybackState(ctx, next, 0); err != nil {
			t.Fatalf("Failed to update playback state: %v", err)
		}

		got, err := store.GetPlaybackState(ctx, room.ID)
		if err != nil {
			t.Fatalf("Failed to get playback state: %v", err)
		}
		if got.Version != 1 || got.GetMediaID() != "movie-1" || got.PositionSeconds != 12.5 || !got.IsPlaying {
			t.Errorf("Unexpected playback state %+v", got)
		}

		r, _ := store.GetRoom(ctx, room.ID)
		if r.GetCurrentMediaID() != "movie-1" {
			t.Errorf("Expected room current media movie-1, got %q", r.GetCurrentMediaID())
		}

		stale := next.Clone()
		stale.Version = 1
		if err := store.UpdatePlaybackState(ctx, stale, 0); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("Expected ErrVersionConflict, got %v", err)
		}

		ghost := next.Clone()
		ghost.RoomID = roomNonExistentUUID
		if err := store.UpdatePlaybackState(ctx, ghost, 0); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
	})
}
