package core

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("could not acquire lock")

// Locker grants exclusive ownership of a key, e.g. one import batch or one rollover pair.
type Locker interface {
	// Lock blocks until key is owned or ctx is done. The returned func releases the key.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
