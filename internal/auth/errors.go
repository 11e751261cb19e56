package auth

import "errors"

var (
	ErrDuplicateEmail     = errors.New("auth: email already exists")
	ErrWeakPassword       = errors.New("auth: password is invalid")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnauthenticated    = errors.New("auth: not authenticated")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenInvalid       = errors.New("auth: token invalid")
	ErrTokenTypeMismatch  = errors.New("auth: token type mismatch")
	ErrIdentityNotFound   = errors.New("auth: identity not found")
	ErrPasswordReuse      = errors.New("auth: new password must be different")
	ErrStorage            = errors.New("auth: storage failure")
	ErrInvalidInput       = errors.New("auth: invalid input")
)

// IsTokenError reports whether err stems from token verification.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenTypeMismatch)
}
