package pg

import (
	"context"
	"database/sql"
	"errors"

	"qazna.org/authcore/internal/auth"
	"qazna.org/authcore/internal/ids"
)

type identities struct {
	conn conn
}

func (r identities) Create(ctx context.Context, identity *auth.Identity) error {
	if identity == nil {
		return auth.ErrInvalidInput
	}
	if identity.ID == "" {
		identity.ID = ids.NewIdentityID()
	}
	err := r.conn.q.QueryRowContext(ctx, `
		insert into users (id, email, password_hash)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, identity.ID, identity.Email, identity.PasswordHash).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrDuplicateEmail
	}
	if err != nil {
		return storageError("IDENTITY_CREATE_FAILED", err, "email", identity.Email)
	}
	return nil
}

func (r identities) FindByID(ctx context.Context, id string) (*auth.Identity, error) {
	if !ids.ValidIdentityID(id) {
		return nil, auth.ErrIdentityNotFound
	}
	row := r.conn.q.QueryRowContext(ctx, `
		select id, email, password_hash, created_at, updated_at
		from users
		where id = $1`+r.conn.lockClause(), id)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrIdentityNotFound
	}
	if err != nil {
		return nil, storageError("IDENTITY_GET_BY_ID_FAILED", err, "id", id)
	}
	return identity, nil
}

func (r identities) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := r.conn.q.QueryRowContext(ctx, `
		select id, email, password_hash, created_at, updated_at
		from users
		where lower(email) = lower($1)`+r.conn.lockClause(), email)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrIdentityNotFound
	}
	if err != nil {
		return nil, storageError("IDENTITY_GET_BY_EMAIL_FAILED", err, "email", email)
	}
	return identity, nil
}

func (r identities) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.conn.q.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now()
		where id = $1
	`, id, passwordHash)
	if err != nil {
		return storageError("IDENTITY_UPDATE_PASSWORD_FAILED", err, "id", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (*auth.Identity, error) {
	var identity auth.Identity
	if err := row.Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return nil, err
	}
	return &identity, nil
}
