package toggle

import (
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/engagement/internal/repositories"
)

var (
	// ErrUnauthenticated is returned when a call carries no actor id. Never retried.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidKind is returned for a relation kind other than like and repost. Never retried.
	ErrInvalidKind = errors.New("invalid relation kind")
	// ErrTargetNotFound is returned when the post is missing or was deleted concurrently. Never retried.
	ErrTargetNotFound = errors.New("target not found")
	// ErrToggleConflict is returned once the bounded internal retry on write conflicts is exhausted
	ErrToggleConflict = errors.New("toggle conflict")
	// ErrStoreUnavailable wraps transport and infrastructure failures. Not retried by the service.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// mapStoreError translates a store error into the service error set
func mapStoreError(err error, targetID string) error {
	switch {
	case err == nil, errors.Is(err, ErrInvalidKind):
		return err
	case errors.Is(err, repositories.ErrTargetNotFound):
		return fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	case errors.Is(err, repositories.ErrTxConflict):
		return fmt.Errorf("%w: %w", ErrToggleConflict, err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// outcome labels an error for metrics
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidKind):
		return "invalid_kind"
	case errors.Is(err, ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, ErrToggleConflict):
		return "conflict"
	default:
		return "unavailable"
	}
}
