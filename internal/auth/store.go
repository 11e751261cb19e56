package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Identities(ctx context.Context) IdentityRepository
	RefreshSessions(ctx context.Context) RefreshSessionStore
	Roles(ctx context.Context) RoleRepository

	// InTx runs fn against a Store bound to a single transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// IdentityRepository manages identities.
type IdentityRepository interface {
	Create(ctx context.Context, identity *Identity) error
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RefreshSessionStore persists refresh token hashes and owns the single
// active session invariant.
type RefreshSessionStore interface {
	// Rotate revokes every active session of the identity and inserts a new
	// one, atomically.
	Rotate(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) error
	RevokeAll(ctx context.Context, identityID string) error
	IsActive(ctx context.Context, tokenHash string) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// RoleRepository exposes the role/permission graph as names.
type RoleRepository interface {
	RoleNames(ctx context.Context, identityID string) ([]string, error)
	PermissionNames(ctx context.Context, identityID string) ([]string, error)
}
