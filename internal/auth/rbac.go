package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RBACResolver produces the role and permission names embedded in access tokens.
type RBACResolver struct {
	store Store
}

// NewRBACResolver constructs a resolver backed by store.
func NewRBACResolver(store Store) (*RBACResolver, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &RBACResolver{store: store}, nil
}

// Resolve returns the sorted, de-duplicated role names and permission names of
// the identity. Permissions include direct grants and grants via roles.
func (r *RBACResolver) Resolve(ctx context.Context, identityID string) (roles, permissions []string, err error) {
	return r.resolve(ctx, r.store, identityID)
}

// resolve runs against st so callers inside a transaction see their own writes.
func (r *RBACResolver) resolve(ctx context.Context, st Store, identityID string) ([]string, []string, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, nil, ErrIdentityNotFound
	}
	if _, err := st.Identities(ctx).FindByID(ctx, identityID); err != nil {
		return nil, nil, err
	}
	repo := st.Roles(ctx)
	roleNames, err := repo.RoleNames(ctx, identityID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve roles: %w", err)
	}
	permNames, err := repo.PermissionNames(ctx, identityID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve permissions: %w", err)
	}
	return normalizeNames(roleNames), normalizeNames(permNames), nil
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
