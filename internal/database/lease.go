package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AcquireLease takes the named lease for holder when it is free, expired, or
// already held by holder. It reports whether holder owns the lease afterwards.
func (db *DB) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := db.now()

	var got string
	err := db.GetContext(ctx, &got, db.q(`
		INSERT INTO drain_locks (name, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE drain_locks.expires_at < ? OR drain_locks.holder = excluded.holder
		RETURNING holder`), name, holder, now.Add(ttl), now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return got == holder, nil
}

// RenewLease extends a lease still owned by holder
func (db *DB) RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	res, err := db.ExecContext(ctx, db.q(`
		UPDATE drain_locks SET expires_at = ?
		WHERE name = ? AND holder = ?`), db.now().Add(ttl), name, holder)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease drops the lease if holder still owns it
func (db *DB) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := db.ExecContext(ctx, db.q(`DELETE FROM drain_locks WHERE name = ? AND holder = ?`), name, holder)
	return err
}
