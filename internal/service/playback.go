package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/pkg/cache"
	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxMediaIDLength = 255

// PlaybackSynchronizer is the only writer of playback state. Updates for a
// room are linearized by the room lock and versioned so a caller can never
// overwrite a state it has not observed.
type PlaybackSynchronizer struct {
	store  repository.RoomStore
	locker RoomLocker
	gate   *AuthorityGate
	cache  cache.PlaybackCache
	events Publisher
	retry  retrier
	reads  singleflight.Group
	now    func() time.Time
	logger *zap.Logger
}

func NewPlaybackSynchronizer(
	store repository.RoomStore,
	locker RoomLocker,
	gate *AuthorityGate,
	playbackCache cache.PlaybackCache,
	events Publisher,
	backoff time.Duration,
	logger *zap.Logger,
) *PlaybackSynchronizer {
	if events == nil {
		events = NopPublisher{}
	}
	return &PlaybackSynchronizer{
		store:  store,
		locker: locker,
		gate:   gate,
		cache:  playbackCache,
		events: events,
		retry:  retrier{backoff: backoff},
		now:    time.Now,
		logger: logger,
	}
}

// Get returns the latest committed state. Concurrent cache misses for the
// same room share one store read, which holds the room lock while it
// refills the cache.
func (p *PlaybackSynchronizer) Get(ctx context.Context, roomID string) (*model.PlaybackState, error) {
	if p.cache != nil {
		state, err := p.cache.Get(ctx, roomID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn("Playback cache read failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}

	v, err, _ := p.reads.Do(roomID, func() (interface{}, error) {
		var state *model.PlaybackState
		err := p.retry.do(ctx, func() error {
			if p.cache == nil {
				var err error
				state, err = p.store.GetPlaybackState(ctx, roomID)
				return err
			}

			// A fill must not race a delete or it would restore a removed
			// room's state, so read and fill under the room lock.
			unlock, err := p.locker.Lock(ctx, roomID)
			if err != nil {
				return err
			}
			defer unlock()

			state, err = p.store.GetPlaybackState(ctx, roomID)
			if err != nil {
				return err
			}
			p.fillCache(ctx, state)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return state, nil
	})
	if err != nil {
		mapped := mapStoreError(err)
		if apperrors.GetHTTPStatus(mapped) >= 500 {
			p.logger.Error("Failed to get playback state", zap.String("room_id", roomID), zap.Error(err))
		}
		return nil, mapped
	}

	return v.(*model.PlaybackState).Clone(), nil
}

// UpdatePlaybackInput represents a playback update request
type UpdatePlaybackInput struct {
	RoomID          string
	CallerID        string
	Patch           model.PlaybackPatch
	ExpectedVersion *int64
}

// Update applies a partial patch under the room lock. A supplied
// ExpectedVersion that differs from the stored version is rejected with
// ErrStaleUpdate carrying the current state, before authority is checked.
func (p *PlaybackSynchronizer) Update(ctx context.Context, input *UpdatePlaybackInput) (*model.PlaybackState, error) {
	if err := validatePatch(&input.Patch); err != nil {
		return nil, err
	}

	var next *model.PlaybackState

	err := p.retry.do(ctx, func() error {
		unlock, err := p.locker.Lock(ctx, input.RoomID)
		if err != nil {
			return err
		}
		defer unlock()

		room, err := p.store.GetRoom(ctx, input.RoomID)
		if err != nil {
			return err
		}

		current, err := p.store.GetPlaybackState(ctx, input.RoomID)
		if err != nil {
			return err
		}

		if input.ExpectedVersion != nil && *input.ExpectedVersion != current.Version {
			return apperrors.ErrStaleUpdate.WithDetails(current)
		}

		allowed, err := p.gate.CanMutatePlayback(ctx, room, input.CallerID)
		if err != nil {
			return err
		}
		if !allowed {
			return apperrors.ErrForbidden
		}

		now := p.now()
		candidate := applyPatch(current, &input.Patch, input.CallerID, now)

		if err := p.store.UpdatePlaybackState(ctx, candidate, current.Version); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// Another instance committed without holding our lock.
				latest, getErr := p.store.GetPlaybackState(ctx, input.RoomID)
				if getErr != nil {
					return apperrors.ErrStaleUpdate
				}
				return apperrors.ErrStaleUpdate.WithDetails(latest)
			}
			return err
		}

		p.fillCache(ctx, candidate)

		next = candidate
		p.events.Publish(&Event{
			Type:       EventPlaybackState,
			RoomID:     input.RoomID,
			UserID:     input.CallerID,
			State:      candidate.Clone(),
			OccurredAt: now,
		})
		return nil
	})
	if err != nil {
		mapped := mapStoreError(err)
		if apperrors.GetHTTPStatus(mapped) >= 500 {
			p.logger.Error("Failed to update playback state",
				zap.String("room_id", input.RoomID),
				zap.String("caller_id", input.CallerID),
				zap.Error(err),
			)
		}
		return nil, mapped
	}

	p.logger.Debug("Playback state updated",
		zap.String("room_id", input.RoomID),
		zap.String("caller_id", input.CallerID),
		zap.Int64("version", next.Version),
		zap.Bool("is_playing", next.IsPlaying),
		zap.Float64("position_seconds", next.PositionSeconds),
	)

	return next.Clone(), nil
}

// fillCache writes through to the cache. If the write fails the key is
// dropped so readers fall back to the store.
func (p *PlaybackSynchronizer) fillCache(ctx context.Context, state *model.PlaybackState) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, state); err != nil {
		p.logger.Warn("Playback cache write failed", zap.String("room_id", state.RoomID), zap.Error(err))
		if err := p.cache.Delete(ctx, state.RoomID); err != nil {
			p.logger.Warn("Playback cache invalidation failed", zap.String("room_id", state.RoomID), zap.Error(err))
		}
	}
}

func validatePatch(patch *model.PlaybackPatch) error {
	if patch.IsEmpty() {
		return apperrors.ErrInvalidInput.WithDetails(map[string]string{
			"patch": "至少需要一個欄位",
		})
	}

	details := make(map[string]string)
	if patch.MediaID != nil && len(strings.TrimSpace(*patch.MediaID)) > maxMediaIDLength {
		details["media_id"] = "長度不可超過 255 字元"
	}
	if patch.PositionSeconds != nil {
		if math.IsNaN(*patch.PositionSeconds) || math.IsInf(*patch.PositionSeconds, 0) {
			details["position_seconds"] = "必須是有限數值"
		}
	}
	if patch.DurationSeconds != nil {
		d := *patch.DurationSeconds
		if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
			details["duration_seconds"] = "必須是正的有限數值"
		}
	}

	if len(details) > 0 {
		return apperrors.ErrInvalidInput.WithDetails(details)
	}
	return nil
}

// applyPatch derives the next state from current. The effective position
// of a playing state is carried forward so a pause without a position
// freezes where viewers actually are. Loading different media resets the
// position and the known duration unless the patch supplies them.
func applyPatch(current *model.PlaybackState, patch *model.PlaybackPatch, callerID string, now time.Time) *model.PlaybackState {
	next := current.Clone()
	next.PositionSeconds = current.PositionAt(now)

	if patch.MediaID != nil {
		mediaID := strings.TrimSpace(*patch.MediaID)
		if mediaID != current.GetMediaID() {
			next.MediaID = sql.NullString{String: mediaID, Valid: mediaID != ""}
			next.PositionSeconds = 0
			next.DurationSeconds = sql.NullFloat64{}
		}
	}
	if patch.DurationSeconds != nil {
		next.DurationSeconds = sql.NullFloat64{Float64: *patch.DurationSeconds, Valid: true}
	}
	if patch.PositionSeconds != nil {
		next.PositionSeconds = *patch.PositionSeconds
	}
	if patch.IsPlaying != nil {
		next.IsPlaying = *patch.IsPlaying
	}

	next.PositionSeconds = next.ClampPosition(next.PositionSeconds)
	next.Version = current.Version + 1
	next.LastUpdatedBy = sql.NullString{String: callerID, Valid: true}
	next.UpdatedAt = now

	return next
}
