package persistence

import (
	"context"
	"database/sql"
	"hash/fnv"
	gosync "sync"

	"github.com/erp/sync-engine/internal/domain/sync"
	"gorm.io/gorm"
)

// PgAdvisoryLock implements sync.SessionLock with postgres session-level
// advisory locks. The locks are bound to the acquiring connection, so each
// held scope pins a dedicated connection out of the pool until Release; the
// lock dies with that session, so a crashed holder never wedges the scope.
type PgAdvisoryLock struct {
	db *gorm.DB

	mu    gosync.Mutex
	conns map[string]*sql.Conn
}

// NewPgAdvisoryLock creates a new PgAdvisoryLock
func NewPgAdvisoryLock(db *gorm.DB) *PgAdvisoryLock {
	return &PgAdvisoryLock{db: db, conns: make(map[string]*sql.Conn)}
}

// TryAcquire attempts the lock without blocking; false means another holder
// owns the scope
func (l *PgAdvisoryLock) TryAcquire(ctx context.Context, scope string) (bool, error) {
	l.mu.Lock()
	_, held := l.conns[scope]
	l.mu.Unlock()
	if held {
		return false, nil
	}

	sqlDB, err := l.db.DB()
	if err != nil {
		return false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock($1)", lockKey(scope)).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, err
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}

	l.mu.Lock()
	l.conns[scope] = conn
	l.mu.Unlock()
	return true, nil
}

// Release unlocks the scope on the connection that acquired it and returns
// that connection to the pool. Releasing an unheld scope is a no-op.
func (l *PgAdvisoryLock) Release(ctx context.Context, scope string) error {
	l.mu.Lock()
	conn, held := l.conns[scope]
	delete(l.conns, scope)
	l.mu.Unlock()
	if !held {
		return nil
	}
	defer conn.Close()

	var released bool
	return conn.QueryRowContext(ctx,
		"SELECT pg_advisory_unlock($1)", lockKey(scope)).Scan(&released)
}

// lockKey maps a scope name onto the advisory lock keyspace
func lockKey(scope string) int64 {
	h := fnv.New64a()
	h.Write([]byte(scope))
	return int64(h.Sum64())
}

// Ensure PgAdvisoryLock implements SessionLock
var _ sync.SessionLock = (*PgAdvisoryLock)(nil)
