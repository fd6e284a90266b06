// Package lock provides named distributed mutexes over Redis. A nil Locker
// runs the guarded function without locking, so single-instance
// deployments work without Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/pkg/metrics"
)

// ErrNotAcquired is returned when the mutex is held elsewhere.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out redsync mutexes.
type Locker struct {
	rs *redsync.Redsync
}

// New wraps rs. rs may be nil.
func New(rs *redsync.Redsync) *Locker {
	return &Locker{rs: rs}
}

// Options for a single WithLock call.
type Options struct {
	Expiry time.Duration
	// Tries is the number of acquisition attempts. One means fail fast.
	Tries int
}

// WithLock runs fn while holding the mutex named key.
func (l *Locker) WithLock(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	if l == nil || l.rs == nil {
		return fn(ctx)
	}
	if opts.Expiry <= 0 {
		opts.Expiry = 10 * time.Second
	}
	if opts.Tries <= 0 {
		opts.Tries = 32
	}

	mutex := l.rs.NewMutex(key, redsync.WithExpiry(opts.Expiry), redsync.WithTries(opts.Tries))
	if err := mutex.LockContext(ctx); err != nil {
		metrics.LockAcquire.WithLabelValues(name(key), "failed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
	}
	metrics.LockAcquire.WithLabelValues(name(key), "success").Inc()

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}()

	return fn(ctx)
}

// name trims the per-entity suffix so metric labels stay bounded.
func name(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
