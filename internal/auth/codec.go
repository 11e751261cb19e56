package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 180 * time.Second
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultResetTTL   = 10 * time.Minute

	minSecretLength = 16
)

// TokenType discriminates the three token kinds minted by Codec.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenReset   TokenType = "reset"
)

// Claims is implemented by every typed claim set.
type Claims interface {
	jwt.Claims
	TokenType() TokenType
	validate() error
}

// AccessClaims carry identity and authorization data for API calls.
type AccessClaims struct {
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	Type        TokenType `json:"type"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) TokenType() TokenType { return c.Type }

// IdentityID returns the identity the token was issued to.
func (c *AccessClaims) IdentityID() string { return c.Subject }

func (c *AccessClaims) validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(c.Email) == "" {
		return errors.New("email missing")
	}
	if c.Roles == nil {
		c.Roles = []string{}
	}
	if c.Permissions == nil {
		c.Permissions = []string{}
	}
	return nil
}

// RefreshClaims are the minimal claims of a refresh token.
type RefreshClaims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

func (c *RefreshClaims) TokenType() TokenType { return c.Type }

// IdentityID returns the identity the token was issued to.
func (c *RefreshClaims) IdentityID() string { return c.Subject }

func (c *RefreshClaims) validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	return nil
}

// ResetClaims authorize a single password change for Email.
type ResetClaims struct {
	Email string `json:"email"`
	// Fingerprint of the password hash at issuance; see passwordFingerprint.
	PasswordFingerprint string    `json:"pwd"`
	Type                TokenType `json:"type"`
	jwt.RegisteredClaims
}

func (c *ResetClaims) TokenType() TokenType { return c.Type }

func (c *ResetClaims) validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return errors.New("email missing")
	}
	if c.PasswordFingerprint == "" {
		return errors.New("password fingerprint missing")
	}
	return nil
}

// CodecConfig is the signing configuration. It is read-only after NewCodec.
type CodecConfig struct {
	// Algorithm is one of HS256, HS384, HS512, RS256, RS384, RS512.
	Algorithm string
	// Secret signs HMAC tokens.
	Secret []byte
	// PrivateKeyPEM and PublicKeyPEM configure RSA algorithms. The public key
	// is derived from the private key when omitted.
	PrivateKeyPEM string
	PublicKeyPEM  string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	Clock         func() time.Time
}

// Codec mints and verifies signed tokens.
type Codec struct {
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	c := &Codec{
		method:     jwt.GetSigningMethod(alg),
		issuer:     strings.TrimSpace(cfg.Issuer),
		accessTTL:  positiveOr(cfg.AccessTTL, defaultAccessTTL),
		refreshTTL: positiveOr(cfg.RefreshTTL, defaultRefreshTTL),
		resetTTL:   positiveOr(cfg.ResetTTL, defaultResetTTL),
		now:        cfg.Clock,
	}
	if c.now == nil {
		c.now = time.Now
	}

	switch c.method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(cfg.Secret) < minSecretLength {
			return nil, fmt.Errorf("auth: %s requires a secret of at least %d bytes", alg, minSecretLength)
		}
		secret := make([]byte, len(cfg.Secret))
		copy(secret, cfg.Secret)
		c.signKey, c.verifyKey = secret, secret
	case *jwt.SigningMethodRSA:
		priv, pub, err := parseRSAKeys(cfg.PrivateKeyPEM, cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		c.signKey, c.verifyKey = priv, pub
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", cfg.Algorithm)
	}
	return c, nil
}

func parseRSAKeys(privatePEM, publicPEM string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privatePEM = strings.TrimSpace(privatePEM)
	if privatePEM == "" {
		return nil, nil, errors.New("auth: RSA algorithms require a private key")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	publicPEM = strings.TrimSpace(publicPEM)
	if publicPEM == "" {
		return priv, &priv.PublicKey, nil
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, nil, errors.New("auth: public key does not match private key")
	}
	return priv, pub, nil
}

// Algorithm returns the configured signing algorithm name.
func (c *Codec) Algorithm() string { return c.method.Alg() }

// AccessTTL returns the lifetime of access tokens.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the lifetime of refresh tokens.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access token carrying the given authorization claims.
func (c *Codec) IssueAccess(identityID, email string, roles, permissions []string) (string, time.Time, error) {
	if strings.TrimSpace(identityID) == "" {
		return "", time.Time{}, errors.New("auth: identity id is required")
	}
	now := c.now()
	claims := &AccessClaims{
		Email:       email,
		Roles:       nonNil(roles),
		Permissions: nonNil(permissions),
		Type:        TokenAccess,
		RegisteredClaims: c.registered(identityID, now, c.accessTTL),
	}
	return c.sign(claims)
}

// IssueRefresh signs a refresh token. The raw value is returned once and not retained.
func (c *Codec) IssueRefresh(identityID string) (string, time.Time, error) {
	if strings.TrimSpace(identityID) == "" {
		return "", time.Time{}, errors.New("auth: identity id is required")
	}
	now := c.now()
	claims := &RefreshClaims{
		Type:             TokenRefresh,
		RegisteredClaims: c.registered(identityID, now, c.refreshTTL),
	}
	return c.sign(claims)
}

// IssueReset signs a password reset token for email. passwordHash is the
// identity's current hash; the token stops verifying once it changes.
func (c *Codec) IssueReset(email, passwordHash string) (string, time.Time, error) {
	if strings.TrimSpace(email) == "" {
		return "", time.Time{}, errors.New("auth: email is required")
	}
	now := c.now()
	claims := &ResetClaims{
		Email:               email,
		PasswordFingerprint: passwordFingerprint(passwordHash),
		Type:                TokenReset,
		RegisteredClaims:    c.registered("", now, c.resetTTL),
	}
	return c.sign(claims)
}

// Verify decodes token and checks signature, expiry and type.
func (c *Codec) Verify(token string, expected TokenType) (Claims, error) {
	var dst Claims
	switch expected {
	case TokenAccess:
		dst = &AccessClaims{}
	case TokenRefresh:
		dst = &RefreshClaims{}
	case TokenReset:
		dst = &ResetClaims{}
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", ErrTokenInvalid, expected)
	}
	if err := c.parse(token, dst); err != nil {
		return nil, err
	}
	if dst.TokenType() != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrTokenTypeMismatch, dst.TokenType(), expected)
	}
	if err := dst.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return dst, nil
}

// VerifyAccess is Verify for access tokens.
func (c *Codec) VerifyAccess(token string) (*AccessClaims, error) {
	claims, err := c.Verify(token, TokenAccess)
	if err != nil {
		return nil, err
	}
	return claims.(*AccessClaims), nil
}

// VerifyRefresh is Verify for refresh tokens.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims, err := c.Verify(token, TokenRefresh)
	if err != nil {
		return nil, err
	}
	return claims.(*RefreshClaims), nil
}

// VerifyReset is Verify for password reset tokens.
func (c *Codec) VerifyReset(token string) (*ResetClaims, error) {
	claims, err := c.Verify(token, TokenReset)
	if err != nil {
		return nil, err
	}
	return claims.(*ResetClaims), nil
}

func (c *Codec) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (c *Codec) sign(claims Claims) (string, time.Time, error) {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", time.Time{}, errors.New("auth: expiry missing")
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp.Time, nil
}

func (c *Codec) parse(token string, dst Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is empty", ErrTokenInvalid)
	}
	now := c.now()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	_, err := jwt.ParseWithClaims(token, dst, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return nil
}

func positiveOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
