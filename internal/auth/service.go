package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"qazna.org/authcore/internal/ids"
	"qazna.org/authcore/internal/obs"
)

// Service implements the register/login/logout/refresh/who-am-i and password
// reset use cases on top of Store and Codec.
type Service struct {
	store  Store
	codec  *Codec
	hasher PasswordHasher
	rbac   *RBACResolver
	reset  *ResetFlow
	tracer trace.Tracer
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher overrides the password hasher (argon2id by default).
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) error {
		if t != nil {
			s.tracer = t
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	svc := &Service{
		store:  store,
		codec:  codec,
		hasher: NewArgon2Hasher(DefaultArgon2Params),
		tracer: noop.NewTracerProvider().Tracer("authcore"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	rbac, err := NewRBACResolver(store)
	if err != nil {
		return nil, err
	}
	reset, err := NewResetFlow(store, codec, svc.hasher)
	if err != nil {
		return nil, err
	}
	svc.rbac, svc.reset = rbac, reset
	return svc, nil
}

// Codec exposes the token codec, e.g. for middleware verification.
func (s *Service) Codec() *Codec { return s.codec }

// Register creates an identity and opens its first session.
func (s *Service) Register(ctx context.Context, email, password string) (pair TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, "register", err) }()

	email, err = normalizeEmail(email)
	if err != nil {
		return TokenPair{}, err
	}
	// Fast path; the check inside the transaction and the unique index are authoritative.
	if err := s.ensureEmailFree(ctx, s.store, email); err != nil {
		return TokenPair{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return TokenPair{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if err := s.ensureEmailFree(ctx, tx, email); err != nil {
			return err
		}
		identity := &Identity{
			ID:           ids.NewIdentityID(),
			Email:        email,
			PasswordHash: hash,
		}
		if err := tx.Identities(ctx).Create(ctx, identity); err != nil {
			return err
		}
		minted, err := s.mint(ctx, tx, identity, nil, nil)
		if err != nil {
			return err
		}
		pair = minted
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) ensureEmailFree(ctx context.Context, st Store, email string) error {
	_, err := st.Identities(ctx).FindByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrDuplicateEmail
	case errors.Is(err, ErrIdentityNotFound):
		return nil
	default:
		return err
	}
}

// Login authenticates email/password and rotates the identity's refresh session.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (pair TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, "login", err) }()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}
	identity, err := s.store.Identities(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		s.burnHash(password)
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.hasher.Compare(identity.PasswordHash, password); err != nil {
		return TokenPair{}, ErrInvalidCredentials
	}
	roles, perms, err := s.rbac.Resolve(ctx, identity.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return s.mint(ctx, s.store, identity, roles, perms)
}

// Refresh exchanges an active refresh token for a new pair. The presented token
// is revoked by the rotation.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { s.finish(span, "refresh", err) }()

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	hash := HashToken(refreshToken)

	err = s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		// Locks the identity first, the same order Rotate uses.
		identity, err := tx.Identities(ctx).FindByID(ctx, claims.IdentityID())
		if errors.Is(err, ErrIdentityNotFound) {
			return fmt.Errorf("%w: identity no longer exists", ErrUnauthenticated)
		}
		if err != nil {
			return err
		}
		active, err := tx.RefreshSessions(ctx).IsActive(ctx, hash)
		if err != nil {
			return err
		}
		if !active {
			return fmt.Errorf("%w: refresh session is not active", ErrUnauthenticated)
		}
		roles, perms, err := s.rbac.resolve(ctx, tx, identity.ID)
		if err != nil {
			return err
		}
		minted, err := s.mint(ctx, tx, identity, roles, perms)
		if err != nil {
			return err
		}
		pair = minted
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Logout revokes every refresh session of the caller identified by either
// token. Without a valid token there is nothing to revoke and it succeeds.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer func() { s.finish(span, "logout", err) }()

	var identityID string
	if claims, verr := s.codec.VerifyAccess(accessToken); verr == nil {
		identityID = claims.IdentityID()
	} else if claims, verr := s.codec.VerifyRefresh(refreshToken); verr == nil {
		identityID = claims.IdentityID()
	}
	if identityID == "" {
		return nil
	}
	return s.store.RefreshSessions(ctx).RevokeAll(ctx, identityID)
}

// WhoAmI describes the caller from the access token alone.
func (s *Service) WhoAmI(ctx context.Context, accessToken string) (p Principal, err error) {
	_, span := s.tracer.Start(ctx, "auth.WhoAmI")
	defer func() { s.finish(span, "me", err) }()
	return s.Authenticate(accessToken)
}

// Authenticate verifies an access token and returns the principal it describes.
func (s *Service) Authenticate(accessToken string) (Principal, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return PrincipalFromClaims(claims), nil
}

// RequestPasswordReset issues a reset token for email.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (token string, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.RequestPasswordReset")
	defer func() { s.finish(span, "request_password_reset", err) }()
	return s.reset.RequestReset(ctx, email)
}

// ResetPassword redeems a reset token, applying the registration password policy.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ResetPassword")
	defer func() { s.finish(span, "reset_password", err) }()
	return s.reset.RedeemReset(ctx, token, newPassword)
}

// PurgeExpiredSessions deletes refresh sessions whose expiry has passed.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.RefreshSessions(ctx).PurgeExpired(ctx, s.now().UTC())
}

func (s *Service) mint(ctx context.Context, st Store, identity *Identity, roles, perms []string) (TokenPair, error) {
	access, accessExp, err := s.codec.IssueAccess(identity.ID, identity.Email, roles, perms)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.IssueRefresh(identity.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := st.RefreshSessions(ctx).Rotate(ctx, identity.ID, HashToken(refresh), refreshExp); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// burnHash spends roughly the cost of a real comparison so unknown emails are
// not distinguishable by latency.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("timing-equalizer-" + ids.New())
	})
	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, password)
	}
}

func (s *Service) finish(span trace.Span, op string, err error) {
	outcome := Outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
	obs.ObserveAuthOperation(op, outcome)
}

// Outcome classifies err into a short label for metrics and audit logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrIdentityNotFound):
		return "identity_not_found"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenTypeMismatch):
		return "token_type_mismatch"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}
