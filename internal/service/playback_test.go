package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/pkg/cache"
	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/repository"
)

// flakyStore fails the first n playback writes with a transient error
type flakyStore struct {
	*repository.MemoryRoomStore
	failures int64
	calls    int64
}

func (s *flakyStore) UpdatePlaybackState(ctx context.Context, state *model.PlaybackState, expectedVersion int64) error {
	atomic.AddInt64(&s.calls, 1)
	if atomic.AddInt64(&s.failures, -1) >= 0 {
		return repository.ErrTransient
	}
	return s.MemoryRoomStore.UpdatePlaybackState(ctx, state, expectedVersion)
}

// mapCache is an in-memory PlaybackCache
type mapCache struct {
	mu     sync.Mutex
	states map[string]*model.PlaybackState
	gets   int64
}

func newMapCache() *mapCache {
	return &mapCache{states: make(map[string]*model.PlaybackState)}
}

func (c *mapCache) Get(ctx context.Context, roomID string) (*model.PlaybackState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	st, ok := c.states[roomID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return st.Clone(), nil
}

func (c *mapCache) Set(ctx context.Context, state *model.PlaybackState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.states[state.RoomID]; ok && cur.Version >= state.Version {
		return nil
	}
	c.states[state.RoomID] = state.Clone()
	return nil
}

func (c *mapCache) Delete(ctx context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, roomID)
	return nil
}

func TestPlaybackSynchronizer_VersionsAreGapless(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	room := createTestRoom(t, env, "owner", 5)

	const updates = 50
	versions := make(chan int64, updates)

	var wg sync.WaitGroup
	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state, err := env.playback.Update(ctx, &UpdatePlaybackInput{
				RoomID:   room.ID,
				CallerID: "owner",
				Patch:    model.PlaybackPatch{PositionSeconds: floatPtr(float64(i))},
			})
			if err != nil {
				t.Errorf("Update %d failed: %v", i, err)
				return
			}
			versions <- state.Version
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		if seen[v] {
			t.Errorf("Version %d returned twice", v)
		}
		seen[v] = true
	}
	for v := int64(1); v <= updates; v++ {
		if !seen[v] {
			t.Errorf("Version %d missing", v)
		}
	}

	// Broadcast order equals commit order.
	events := env.events.ofType(EventPlaybackState)
	for i, e := range events {
		if e.State.Version != int64(i+1) {
			t.Fatalf("Event %d carries version %d", i, e.State.Version)
		}
	}

	final, _ := env.playback.Get(ctx, room.ID)
	if final.Version != updates {
		t.Errorf("Expected final version %d, got %d", updates, final.Version)
	}
}

func TestPlaybackSynchronizer_StaleUpdateRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	room := createTestRoom(t, env, "owner", 5)
	for i := 0; i < 5; i++ {
		if _, err := env.playback.Update(ctx, &UpdatePlaybackInput{
			RoomID:          room.ID,
			CallerID:        "owner",
			Patch:           model.PlaybackPatch{PositionSeconds: floatPtr(float64(i * 10))},
			ExpectedVersion: int64Ptr(int64(i)),
		}); err != nil {
			t.Fatalf("Setup update %d failed: %v", i, err)
		}
	}

	before, _ := env.playback.Get(ctx, room.ID)
	if before.Version != 5 {
		t.Fatalf("Expected version 5, got %d", before.Version)
	}

	_, err := env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:          room.ID,
		CallerID:        "owner",
		Patch:           model.PlaybackPatch{PositionSeconds: floatPtr(0)},
		ExpectedVersion: int64Ptr(4),
	})
	if !errors.Is(err, apperrors.ErrStaleUpdate) {
		t.Fatalf("Expected ErrStaleUpdate, got %v", err)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatal("Expected AppError")
	}
	current, ok := appErr.Details.(*model.PlaybackState)
	if !ok {
		t.Fatalf("Expected current state in details, got %T", appErr.Details)
	}
	if current.Version != 5 {
		t.Errorf("Expected details version 5, got %d", current.Version)
	}

	after, _ := env.playback.Get(ctx, room.ID)
	if after.Version != 5 || after.PositionSeconds != before.PositionSeconds {
		t.Errorf("Expected state unchanged, got version %d position %v", after.Version, after.PositionSeconds)
	}
	if n := len(env.events.ofType(EventPlaybackState)); n != 5 {
		t.Errorf("Expected 5 playback events, got %d", n)
	}
}

func TestPlaybackSynchronizer_PartialPatch(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	env.playback.now = func() time.Time { return now }

	state, err := env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch: model.PlaybackPatch{
			MediaID:         strPtr("movie-1"),
			DurationSeconds: floatPtr(100),
			PositionSeconds: floatPtr(30),
		},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if state.GetMediaID() != "movie-1" || state.PositionSeconds != 30 || state.IsPlaying {
		t.Errorf("Unexpected state %+v", state)
	}

	state, err = env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{IsPlaying: boolPtr(true)},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if state.GetMediaID() != "movie-1" || state.PositionSeconds != 30 || !state.IsPlaying {
		t.Errorf("Expected media and position retained, got %+v", state)
	}
	if !state.DurationSeconds.Valid || state.DurationSeconds.Float64 != 100 {
		t.Errorf("Expected duration retained, got %+v", state.DurationSeconds)
	}

	// Pausing 12s later freezes at the effective position.
	now = now.Add(12 * time.Second)
	state, err = env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{IsPlaying: boolPtr(false)},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if state.PositionSeconds != 42 {
		t.Errorf("Expected paused position 42, got %v", state.PositionSeconds)
	}
}

func TestPlaybackSynchronizer_MediaChangeResetsPosition(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch: model.PlaybackPatch{
			MediaID:         strPtr("ep-1"),
			DurationSeconds: floatPtr(1200),
			PositionSeconds: floatPtr(900),
		},
	})

	state, err := env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{MediaID: strPtr("ep-2")},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if state.PositionSeconds != 0 {
		t.Errorf("Expected position reset to 0, got %v", state.PositionSeconds)
	}
	if state.DurationSeconds.Valid {
		t.Error("Expected duration cleared on media change")
	}

	room2, _ := env.store.GetRoom(ctx, room.ID)
	if room2.GetCurrentMediaID() != "ep-2" {
		t.Errorf("Expected room current media ep-2, got %q", room2.GetCurrentMediaID())
	}

	// Same media keeps the position.
	state, _ = env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{PositionSeconds: floatPtr(50)},
	})
	state, _ = env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{MediaID: strPtr("ep-2")},
	})
	if state.PositionSeconds != 50 {
		t.Errorf("Expected position 50 kept for same media, got %v", state.PositionSeconds)
	}

	// Empty media ID unloads.
	state, _ = env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{MediaID: strPtr("")},
	})
	if state.MediaID.Valid {
		t.Errorf("Expected media unloaded, got %q", state.GetMediaID())
	}
}

func TestPlaybackSynchronizer_ClampsPosition(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	tests := []struct {
		name     string
		patch    model.PlaybackPatch
		expected float64
	}{
		{"negative without duration", model.PlaybackPatch{PositionSeconds: floatPtr(-5)}, 0},
		{"large without duration", model.PlaybackPatch{PositionSeconds: floatPtr(99999)}, 99999},
		{"beyond duration", model.PlaybackPatch{DurationSeconds: floatPtr(120), PositionSeconds: floatPtr(150)}, 120},
		{"within duration", model.PlaybackPatch{PositionSeconds: floatPtr(60.5)}, 60.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := env.playback.Update(ctx, &UpdatePlaybackInput{
				RoomID:   room.ID,
				CallerID: "owner",
				Patch:    tt.patch,
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if state.PositionSeconds != tt.expected {
				t.Errorf("Expected position %v, got %v", tt.expected, state.PositionSeconds)
			}
		})
	}
}

func TestPlaybackSynchronizer_InvalidPatch(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	tests := []struct {
		name  string
		patch model.PlaybackPatch
	}{
		{"empty", model.PlaybackPatch{}},
		{"NaN position", model.PlaybackPatch{PositionSeconds: floatPtr(math.NaN())}},
		{"infinite position", model.PlaybackPatch{PositionSeconds: floatPtr(math.Inf(1))}},
		{"zero duration", model.PlaybackPatch{DurationSeconds: floatPtr(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.playback.Update(ctx, &UpdatePlaybackInput{
				RoomID:   room.ID,
				CallerID: "owner",
				Patch:    tt.patch,
			})
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}

	state, _ := env.playback.Get(ctx, room.ID)
	if state.Version != 0 {
		t.Errorf("Expected version 0 after rejected patches, got %d", state.Version)
	}
}

func TestPlaybackSynchronizer_RoomNotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	if _, err := env.playback.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on get, got %v", err)
	}
	_, err := env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   "missing",
		CallerID: "owner",
		Patch:    model.PlaybackPatch{IsPlaying: boolPtr(true)},
	})
	if !errors.Is(err, apperrors.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on update, got %v", err)
	}
}

func TestPlaybackSynchronizer_RetriesTransientOnce(t *testing.T) {
	store := &flakyStore{MemoryRoomStore: repository.NewMemoryRoomStore(), failures: 1}
	env := newTestEnv(t, store, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	state, err := env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{IsPlaying: boolPtr(true)},
	})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if state.Version != 1 {
		t.Errorf("Expected version 1, got %d", state.Version)
	}
	if store.calls != 2 {
		t.Errorf("Expected 2 write attempts, got %d", store.calls)
	}
}

func TestPlaybackSynchronizer_TransientSurfacesAsUnavailable(t *testing.T) {
	store := &flakyStore{MemoryRoomStore: repository.NewMemoryRoomStore(), failures: 2}
	env := newTestEnv(t, store, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	_, err := env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{IsPlaying: boolPtr(true)},
	})
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if store.calls != 2 {
		t.Errorf("Expected exactly one retry, got %d attempts", store.calls)
	}

	state, _ := env.playback.Get(ctx, room.ID)
	if state.Version != 0 {
		t.Errorf("Expected no partial mutation, got version %d", state.Version)
	}
	if n := len(env.events.ofType(EventPlaybackState)); n != 0 {
		t.Errorf("Expected no playback events, got %d", n)
	}
}

func TestPlaybackSynchronizer_CacheWriteThrough(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	c := newMapCache()
	env.playback.cache = c
	env.membership.cache = c

	if _, err := env.playback.Get(ctx, room.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cached, _ := c.Get(ctx, room.ID); cached == nil || cached.Version != 0 {
		t.Fatal("Expected miss to fill the cache")
	}

	if _, err := env.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:   room.ID,
		CallerID: "owner",
		Patch:    model.PlaybackPatch{MediaID: strPtr("m1")},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	state, _ := env.playback.Get(ctx, room.ID)
	if state.Version != 1 || state.GetMediaID() != "m1" {
		t.Errorf("Expected cached version 1 with m1, got %d %q", state.Version, state.GetMediaID())
	}

	if err := env.membership.Delete(ctx, room.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, room.ID); !errors.Is(err, cache.ErrCacheMiss) {
		t.Error("Expected cache entry to be dropped on delete")
	}
	if _, err := env.playback.Get(ctx, room.ID); !errors.Is(err, apperrors.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound after delete, got %v", err)
	}
}

// deleteDuringReadStore starts a room delete while the first playback read
// is in flight and gives it time to commit before the read returns
type deleteDuringReadStore struct {
	*repository.MemoryRoomStore
	once    sync.Once
	onRead  func()
	settled chan struct{}
}

func (s *deleteDuringReadStore) GetPlaybackState(ctx context.Context, roomID string) (*model.PlaybackState, error) {
	state, err := s.MemoryRoomStore.GetPlaybackState(ctx, roomID)
	s.once.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer close(s.settled)
			s.onRead()
		}()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	})
	return state, err
}

func TestPlaybackSynchronizer_CacheFillCannotOutliveDelete(t *testing.T) {
	store := &deleteDuringReadStore{
		MemoryRoomStore: repository.NewMemoryRoomStore(),
		settled:         make(chan struct{}),
	}
	env := newTestEnv(t, store, nil)
	ctx := context.Background()
	room := createTestRoom(t, env, "owner", 5)

	c := newMapCache()
	env.playback.cache = c
	env.membership.cache = c

	var deleteErr error
	store.onRead = func() {
		deleteErr = env.session.DeleteRoom(ctx, room.ID, "owner")
	}

	if _, err := env.playback.Get(ctx, room.ID); err != nil {
		t.Fatalf("First Get failed: %v", err)
	}

	select {
	case <-store.settled:
	case <-time.After(5 * time.Second):
		t.Fatal("Delete did not finish")
	}
	if deleteErr != nil {
		t.Fatalf("Delete failed: %v", deleteErr)
	}

	if _, err := c.Get(ctx, room.ID); !errors.Is(err, cache.ErrCacheMiss) {
		t.Error("Expected no cached state for a deleted room")
	}
	if _, err := env.playback.Get(ctx, room.ID); !errors.Is(err, apperrors.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound after delete, got %v", err)
	}
}

func TestApplyPatch_StampsWriter(t *testing.T) {
	now := time.Now()
	current := model.NewPlaybackState("r1", now)
	current.Version = 7

	next := applyPatch(current, &model.PlaybackPatch{IsPlaying: boolPtr(true)}, "host", now)
	if next.Version != 8 {
		t.Errorf("Expected version 8, got %d", next.Version)
	}
	if next.GetLastUpdatedBy() != "host" {
		t.Errorf("Expected last updated by host, got %s", next.GetLastUpdatedBy())
	}
	if current.Version != 7 || current.IsPlaying {
		t.Error("Expected current state not to be mutated")
	}
}
