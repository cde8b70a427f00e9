package lockersvc

import (
	"context"
	"sync"
	"time"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// LocalLocker is a keyed mutex for a single process.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
	wait time.Duration
}

var _ core.Locker = (*LocalLocker)(nil)

// NewLocalLocker returns a locker that waits at most `wait` for a key (0: until the context is done).
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{keys: make(map[string]chan struct{}), wait: wait}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	for {
		l.mu.Lock()
		held, busy := l.keys[key]
		if !busy {
			released := make(chan struct{})
			l.keys[key] = released
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.keys, key)
					l.mu.Unlock()
					close(released)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, core.ErrLockTimeout
		}
	}
}
