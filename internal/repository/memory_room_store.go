package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/google/uuid"
)

// MemoryRoomStore is a process-local RoomStore for single-instance
// deployments and tests. All records are copied on the way in and out.
type MemoryRoomStore struct {
	mu      sync.RWMutex
	rooms   map[string]*model.Room
	members map[string]map[string]*model.RoomMember // roomID -> userID -> member
	states  map[string]*model.PlaybackState
	now     func() time.Time
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:   make(map[string]*model.Room),
		members: make(map[string]map[string]*model.RoomMember),
		states:  make(map[string]*model.PlaybackState),
		now:     time.Now,
	}
}

var _ RoomStore = (*MemoryRoomStore)(nil)

func (s *MemoryRoomStore) CreateRoom(ctx context.Context, room *model.Room, owner *model.RoomMember, state *model.PlaybackState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	room.ID = uuid.New().String()
	room.CreatedAt = now
	room.UpdatedAt = now

	owner.ID = uuid.New().String()
	owner.RoomID = room.ID
	owner.JoinedAt = now

	state.RoomID = room.ID
	state.UpdatedAt = now

	r := *room
	o := *owner
	st := *state
	s.rooms[room.ID] = &r
	s.members[room.ID] = map[string]*model.RoomMember{owner.UserID: &o}
	s.states[room.ID] = &st

	return nil
}

func (s *MemoryRoomStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *MemoryRoomStore) GetRoomWithMemberCount(ctx context.Context, id string) (*model.RoomWithMemberCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &model.RoomWithMemberCount{Room: *room, MemberCount: len(s.members[id])}, nil
}

func (s *MemoryRoomStore) UpdateRoom(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rooms[room.ID]
	if !ok {
		return ErrRoomNotFound
	}

	existing.Name = room.Name
	existing.Description = room.Description
	existing.IsPrivate = room.IsPrivate
	existing.MaxCapacity = room.MaxCapacity
	existing.UpdatedAt = s.now()
	room.UpdatedAt = existing.UpdatedAt

	return nil
}

func (s *MemoryRoomStore) DeleteRoom(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, id)
	delete(s.members, id)
	delete(s.states, id)

	return nil
}

func (s *MemoryRoomStore) ListPublic(ctx context.Context, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*model.RoomWithMemberCount, 0)
	for id, room := range s.rooms {
		if room.IsPrivate {
			continue
		}
		rooms = append(rooms, &model.RoomWithMemberCount{Room: *room, MemberCount: len(s.members[id])})
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})

	return paginate(rooms, limit, offset), nil
}

func (s *MemoryRoomStore) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type joined struct {
		room     *model.RoomWithMemberCount
		joinedAt time.Time
	}

	var found []joined
	for id, members := range s.members {
		m, ok := members[userID]
		if !ok {
			continue
		}
		found = append(found, joined{
			room:     &model.RoomWithMemberCount{Room: *s.rooms[id], MemberCount: len(members)},
			joinedAt: m.JoinedAt,
		})
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].joinedAt.After(found[j].joinedAt)
	})

	rooms := make([]*model.RoomWithMemberCount, 0, len(found))
	for _, f := range found {
		rooms = append(rooms, f.room)
	}

	return paginate(rooms, limit, offset), nil
}

func paginate(rooms []*model.RoomWithMemberCount, limit, offset int) []*model.RoomWithMemberCount {
	if offset >= len(rooms) {
		return []*model.RoomWithMemberCount{}
	}
	end := len(rooms)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rooms[offset:end]
}

// AddMember checks existence, uniqueness and capacity under the store lock
func (s *MemoryRoomStore) AddMember(ctx context.Context, member *model.RoomMember) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[member.RoomID]
	if !ok {
		return ErrRoomNotFound
	}

	members := s.members[member.RoomID]
	if _, exists := members[member.UserID]; exists {
		return ErrAlreadyRoomMember
	}
	if len(members) >= room.MaxCapacity {
		return ErrRoomFull
	}

	member.ID = uuid.New().String()
	member.JoinedAt = s.now()

	m := *member
	members[member.UserID] = &m

	return nil
}

func (s *MemoryRoomStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.members[roomID]
	if _, ok := members[userID]; !ok {
		return ErrNotRoomMember
	}
	delete(members, userID)

	return nil
}

func (s *MemoryRoomStore) GetMember(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[roomID][userID]
	if !ok {
		return nil, ErrNotRoomMember
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryRoomStore) ListMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]*model.RoomMember, 0, len(s.members[roomID]))
	for _, m := range s.members[roomID] {
		cp := *m
		members = append(members, &cp)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].IsOwner() != members[j].IsOwner() {
			return members[i].IsOwner()
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	return members, nil
}

func (s *MemoryRoomStore) CountMembers(ctx context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[roomID]), nil
}

func (s *MemoryRoomStore) GetPlaybackState(ctx context.Context, roomID string) (*model.PlaybackState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return state.Clone(), nil
}

func (s *MemoryRoomStore) UpdatePlaybackState(ctx context.Context, state *model.PlaybackState, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[state.RoomID]
	if !ok {
		return ErrRoomNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	s.states[state.RoomID] = state.Clone()
	if room, ok := s.rooms[state.RoomID]; ok {
		room.CurrentMediaID = state.MediaID
		room.UpdatedAt = s.now()
	}

	return nil
}
