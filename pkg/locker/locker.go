// Package locker serializes writers of the same movement. Writers of
// different movements never wait on each other.
package locker

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// ErrLockTimeout is returned when the lock could not be acquired in time.
// It renders as a 409 so the caller can retry.
var ErrLockTimeout = httperror.NewHTTPError(http.StatusConflict, "movement is being modified, retry later")

// Locker runs fn while holding the lock named by key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// MovementKey names the lock guarding a movement's configuration tree.
func MovementKey(movementID string) string {
	return "movement:" + movementID
}
