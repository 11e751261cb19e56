package auth

import "slices"

// Principal is the authenticated caller as described by a verified access token.
type Principal struct {
	IdentityID  string   `json:"-"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// PrincipalFromClaims builds a principal without consulting storage.
func PrincipalFromClaims(c *AccessClaims) Principal {
	return Principal{
		IdentityID:  c.Subject,
		Email:       c.Email,
		Roles:       slices.Clone(nonNil(c.Roles)),
		Permissions: slices.Clone(nonNil(c.Permissions)),
	}
}

// HasPermission reports whether the principal can execute action identified by key.
func (p Principal) HasPermission(key string) bool {
	return slices.Contains(p.Permissions, key)
}

// HasRole reports whether the principal was granted role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}
