package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/repository"
)

// mapStoreError converts repository errors into caller-facing AppErrors.
// AppErrors and context errors pass through unchanged.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, repository.ErrRoomNotFound):
		return apperrors.ErrRoomNotFound
	case errors.Is(err, repository.ErrAlreadyRoomMember):
		return apperrors.ErrAlreadyMember
	case errors.Is(err, repository.ErrRoomFull):
		return apperrors.ErrRoomFull
	case errors.Is(err, repository.ErrNotRoomMember):
		return apperrors.ErrForbidden
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.ErrStaleUpdate
	case repository.IsTransient(err):
		return apperrors.Wrap(err, apperrors.ErrUnavailable.Code, apperrors.ErrUnavailable.Message)
	}

	return apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Message)
}

// retrier runs an operation once more after a transient failure
type retrier struct {
	backoff time.Duration
}

func (r retrier) do(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !repository.IsTransient(err) {
		return err
	}

	timer := time.NewTimer(r.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	return fn()
}
