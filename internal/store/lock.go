package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LockManager provides per-key mutual exclusion on top of the store: a lock
// is a scalar key written with SetNX and a TTL. Acquisition is a single
// non-blocking attempt; the TTL is the only thing that frees a lock whose
// holder crashed. Each acquisition gets a random owner token so a holder
// that outlived its TTL cannot release a racer's lock.
type LockManager struct {
	store Store
	scope Scope
}

// NewLockManager returns a LockManager operating in the given scope.
func NewLockManager(s Store, scope Scope) *LockManager {
	return &LockManager{store: s, scope: scope}
}

// TryAcquire attempts to take the lock once. On success it returns the
// owner token to pass to Release. ok == false with nil error means the lock
// is held elsewhere.
func (l *LockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.store.SetNX(ctx, l.scope, key, token, ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if it is still owned by token. Releasing a lock
// that expired (and was possibly re-acquired) is a no-op, not an error.
func (l *LockManager) Release(ctx context.Context, key, token string) error {
	if _, err := l.store.DelIfEquals(ctx, l.scope, key, token); err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}
