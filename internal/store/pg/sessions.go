package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qazna.org/authcore/internal/auth"
	"qazna.org/authcore/internal/ids"
)

type sessions struct {
	conn conn
}

// Rotate locks the identity row, revokes its active sessions and inserts the
// new one. The partial unique index on user_id backs the single active session.
func (r sessions) Rotate(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) error {
	if !ids.ValidIdentityID(identityID) {
		return auth.ErrIdentityNotFound
	}
	return r.conn.atomic(ctx, func(q querier) error {
		var locked string
		err := q.QueryRowContext(ctx, `select id from users where id = $1 for update`, identityID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrIdentityNotFound
		}
		if err != nil {
			return storageError("SESSION_ROTATE_FAILED", err, "operation", "lock identity", "identity_id", identityID)
		}
		if _, err := q.ExecContext(ctx, `
			update refresh_sessions set revoked = true
			where user_id = $1 and not revoked
		`, identityID); err != nil {
			return storageError("SESSION_ROTATE_FAILED", err, "operation", "revoke", "identity_id", identityID)
		}
		if _, err := q.ExecContext(ctx, `
			insert into refresh_sessions (id, user_id, token_hash, expires_at)
			values ($1, $2, $3, $4)
		`, ids.New(), identityID, tokenHash, expiresAt.UTC()); err != nil {
			return storageError("SESSION_ROTATE_FAILED", err, "operation", "insert", "identity_id", identityID)
		}
		return nil
	})
}

func (r sessions) RevokeAll(ctx context.Context, identityID string) error {
	if !ids.ValidIdentityID(identityID) {
		return nil
	}
	if _, err := r.conn.q.ExecContext(ctx, `
		update refresh_sessions set revoked = true
		where user_id = $1 and not revoked
	`, identityID); err != nil {
		return storageError("SESSION_REVOKE_FAILED", err, "identity_id", identityID)
	}
	return nil
}

func (r sessions) IsActive(ctx context.Context, tokenHash string) (bool, error) {
	var active bool
	err := r.conn.q.QueryRowContext(ctx, `
		select exists (
			select 1 from refresh_sessions
			where token_hash = $1 and not revoked and expires_at > $2
		)
	`, tokenHash, r.conn.now().UTC()).Scan(&active)
	if err != nil {
		return false, storageError("SESSION_LOOKUP_FAILED", err)
	}
	return active, nil
}

func (r sessions) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.conn.q.ExecContext(ctx, `delete from refresh_sessions where expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, storageError("SESSION_PURGE_FAILED", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("SESSION_PURGE_FAILED", err)
	}
	return n, nil
}
