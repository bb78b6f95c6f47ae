package locker

import (
	"context"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/metrics"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process keyed lock. Entries are dropped once no
// goroutine holds or waits for them.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	timeout time.Duration
}

// NewLocalLocker creates a keyed lock. A zero timeout waits until ctx is done.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{
		entries: map[string]*localEntry{},
		timeout: timeout,
	}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	entry := l.ref(key)
	defer l.unref(key)

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	select {
	case entry.sem <- struct{}{}:
	case <-waitCtx.Done():
		metrics.RecordLockWait("local", time.Since(start), waitCtx.Err())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLockTimeout
	}
	metrics.RecordLockWait("local", time.Since(start), nil)
	defer func() { <-entry.sem }()

	return fn(ctx)
}

func (l *LocalLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
