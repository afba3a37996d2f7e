package lending

import (
	"context"
	"sync"
	"time"
)

// KeyedLocker hands out exclusive in-process locks per string key. Callers
// pass keys in a fixed global order (member before book) so two requests can
// never wait on each other in a cycle.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
	timeout time.Duration
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker builds a locker whose waits give up after timeout. A zero
// timeout waits until the context is done.
func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	return &KeyedLocker{
		entries: make(map[string]*keyEntry),
		timeout: timeout,
	}
}

// Acquire locks keys in the order given and returns a release func that
// unlocks them in reverse. Duplicate keys are locked once.
func (l *KeyedLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	held := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if err := l.lock(ctx, key); err != nil {
			l.unlockAll(held)
			return nil, conflict(err, "timed out waiting for "+key)
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlockAll(held) })
	}, nil
}

func (l *KeyedLocker) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(key, entry)
		return ctx.Err()
	}
}

func (l *KeyedLocker) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		entry := l.entries[keys[i]]
		l.mu.Unlock()
		if entry == nil {
			continue
		}
		<-entry.sem
		l.drop(keys[i], entry)
	}
}

func (l *KeyedLocker) drop(key string, entry *keyEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
