package auth

import "time"

// Identity is a registered user account.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshSession represents one outstanding refresh credential.
type RefreshSession struct {
	ID         string
	IdentityID string
	TokenHash  string
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
}

// Active reports whether the session can still be exchanged at the given instant.
func (s RefreshSession) Active(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}

// TokenPair is the credential set handed to the transport after register, login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

