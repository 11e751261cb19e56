package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ResetFlow issues and redeems stateless password reset tokens.
//
// Reset tokens are proven by signature and expiry alone. They cannot be
// revoked before they expire, except that changing the password invalidates
// every outstanding token for the account.
type ResetFlow struct {
	store  Store
	codec  *Codec
	hasher PasswordHasher
}

// NewResetFlow wires the reset flow to its collaborators.
func NewResetFlow(store Store, codec *Codec, hasher PasswordHasher) (*ResetFlow, error) {
	if store == nil || codec == nil || hasher == nil {
		return nil, errors.New("reset flow requires store, codec and hasher")
	}
	return &ResetFlow{store: store, codec: codec, hasher: hasher}, nil
}

// RequestReset returns a reset token for the identity owning email. Delivering it
// to the user is up to the caller.
func (f *ResetFlow) RequestReset(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	identity, err := f.store.Identities(ctx).FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	token, _, err := f.codec.IssueReset(identity.Email, identity.PasswordHash)
	if err != nil {
		return "", err
	}
	return token, nil
}

// RedeemReset replaces the password of the identity named by token and revokes
// its refresh sessions.
func (f *ResetFlow) RedeemReset(ctx context.Context, token, newPassword string) error {
	claims, err := f.codec.VerifyReset(token)
	if err != nil {
		return err
	}
	return f.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		identity, err := tx.Identities(ctx).FindByEmail(ctx, claims.Email)
		if err != nil {
			return err
		}
		if !fingerprintMatches(claims.PasswordFingerprint, identity.PasswordHash) {
			return fmt.Errorf("%w: reset token was already used", ErrTokenInvalid)
		}
		if err := ValidatePassword(newPassword); err != nil {
			return err
		}
		if f.hasher.Compare(identity.PasswordHash, newPassword) == nil {
			return ErrPasswordReuse
		}
		hash, err := f.hasher.Hash(newPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if err := tx.Identities(ctx).UpdatePassword(ctx, identity.ID, hash); err != nil {
			return err
		}
		return tx.RefreshSessions(ctx).RevokeAll(ctx, identity.ID)
	})
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
