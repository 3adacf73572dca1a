package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// TryAdvisoryLock attempts to acquire a session-level postgres advisory lock
// on a dedicated connection and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// closing the connection releases the lock anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// WaitForLock polls locker until key is acquired or ctx ends. Replicas that
// lose the race stay on standby here.
func WaitForLock(ctx context.Context, locker AdvisoryLocker, key int64, interval time.Duration, logger zerolog.Logger) (func(), error) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	logger = logger.With().Str("component", "leader_lock").Int64("lock_key", key).Logger()

	for {
		unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("advisory lock attempt failed")
		case acquired:
			logger.Info().Msg("advisory lock acquired; this replica is active")
			return unlock, nil
		default:
			logger.Info().Dur("retry_in", interval).Msg("another replica holds the lock; standing by")
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

var _ AdvisoryLocker = (*Store)(nil)
