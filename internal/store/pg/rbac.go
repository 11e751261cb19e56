package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"qazna.org/authcore/internal/auth"
	"qazna.org/authcore/internal/ids"
)

// ErrRoleNotFound is returned when assigning a role that was never defined.
var ErrRoleNotFound = errors.New("pg: role not found")

type roles struct {
	conn conn
}

func (r roles) RoleNames(ctx context.Context, identityID string) ([]string, error) {
	if !ids.ValidIdentityID(identityID) {
		return nil, nil
	}
	return r.names(ctx, "ROLE_NAMES_FAILED", `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
	`, identityID)
}

// PermissionNames returns direct grants plus grants through roles.
func (r roles) PermissionNames(ctx context.Context, identityID string) ([]string, error) {
	if !ids.ValidIdentityID(identityID) {
		return nil, nil
	}
	return r.names(ctx, "PERMISSION_NAMES_FAILED", `
		select p.name
		from user_permissions up
		join permissions p on p.id = up.permission_id
		where up.user_id = $1
		union
		select p.name
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
	`, identityID)
}

func (r roles) names(ctx context.Context, code, query, identityID string) ([]string, error) {
	rows, err := r.conn.q.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, storageError(code, err, "identity_id", identityID)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageError(code, err, "identity_id", identityID)
		}
		result = append(result, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(code, err, "identity_id", identityID)
	}
	return result, nil
}

// DefineRole creates role if needed and adds the permissions to it.
func (s *Store) DefineRole(ctx context.Context, role string, permissions ...string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return auth.ErrInvalidInput
	}
	return s.conn().atomic(ctx, func(q querier) error {
		var roleID int64
		err := q.QueryRowContext(ctx, `
			insert into roles (name) values ($1)
			on conflict (name) do update set name = excluded.name
			returning id
		`, role).Scan(&roleID)
		if err != nil {
			return storageError("ROLE_DEFINE_FAILED", err, "role", role)
		}
		for _, perm := range permissions {
			permID, err := ensurePermission(ctx, q, perm)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, `
				insert into role_permissions (role_id, permission_id) values ($1, $2)
				on conflict do nothing
			`, roleID, permID); err != nil {
				return storageError("ROLE_DEFINE_FAILED", err, "role", role, "permission", perm)
			}
		}
		return nil
	})
}

// AssignRole grants an existing role to the identity.
func (s *Store) AssignRole(ctx context.Context, identityID, role string) error {
	if !ids.ValidIdentityID(identityID) {
		return auth.ErrIdentityNotFound
	}
	return s.conn().atomic(ctx, func(q querier) error {
		if err := identityExists(ctx, q, identityID); err != nil {
			return err
		}
		var roleID int64
		err := q.QueryRowContext(ctx, `select id from roles where name = $1`, strings.TrimSpace(role)).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoleNotFound
		}
		if err != nil {
			return storageError("ROLE_ASSIGN_FAILED", err, "role", role)
		}
		if _, err := q.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
			on conflict do nothing
		`, identityID, roleID); err != nil {
			return storageError("ROLE_ASSIGN_FAILED", err, "identity_id", identityID, "role", role)
		}
		return nil
	})
}

// GrantPermission grants permission directly to the identity, creating the
// permission if needed.
func (s *Store) GrantPermission(ctx context.Context, identityID, permission string) error {
	if !ids.ValidIdentityID(identityID) {
		return auth.ErrIdentityNotFound
	}
	return s.conn().atomic(ctx, func(q querier) error {
		if err := identityExists(ctx, q, identityID); err != nil {
			return err
		}
		permID, err := ensurePermission(ctx, q, permission)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			insert into user_permissions (user_id, permission_id) values ($1, $2)
			on conflict do nothing
		`, identityID, permID); err != nil {
			return storageError("PERMISSION_GRANT_FAILED", err, "identity_id", identityID, "permission", permission)
		}
		return nil
	})
}

func identityExists(ctx context.Context, q querier, identityID string) error {
	var id string
	err := q.QueryRowContext(ctx, `select id from users where id = $1`, identityID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrIdentityNotFound
	}
	if err != nil {
		return storageError("IDENTITY_GET_BY_ID_FAILED", err, "id", identityID)
	}
	return nil
}

func ensurePermission(ctx context.Context, q querier, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, auth.ErrInvalidInput
	}
	var id int64
	err := q.QueryRowContext(ctx, `
		insert into permissions (name) values ($1)
		on conflict (name) do update set name = excluded.name
		returning id
	`, name).Scan(&id)
	if err != nil {
		return 0, storageError("PERMISSION_ENSURE_FAILED", err, "permission", name)
	}
	return id, nil
}
