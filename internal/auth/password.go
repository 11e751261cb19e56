package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 100
)

var (
	errEmptyPassword   = errors.New("password is empty")
	errEmptyHash       = errors.New("password hash is empty")
	errMismatch        = errors.New("password does not match")
	errUnsupportedHash = errors.New("unsupported password hash format")
)

// PasswordHasher turns plaintext passwords into one-way hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare returns nil when password matches hash.
	Compare(hash, password string) error
}

// Argon2Params tunes argon2id. Memory is in KiB.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params follows the OWASP recommendation for argon2id.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

// Argon2Hasher hashes with argon2id in PHC string format. Compare also
// accepts bcrypt hashes so accounts created before the switch keep working.
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher returns a hasher using p, filling zero fields from DefaultArgon2Params.
func NewArgon2Hasher(p Argon2Params) *Argon2Hasher {
	if p.Time == 0 {
		p.Time = DefaultArgon2Params.Time
	}
	if p.Memory == 0 {
		p.Memory = DefaultArgon2Params.Memory
	}
	if p.Threads == 0 {
		p.Threads = DefaultArgon2Params.Threads
	}
	if p.SaltLen == 0 {
		p.SaltLen = DefaultArgon2Params.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultArgon2Params.KeyLen
	}
	return &Argon2Hasher{params: p}
}

// Hash produces $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<key>.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare checks password against an argon2id or bcrypt hash.
func (h *Argon2Hasher) Compare(hash, password string) error {
	switch {
	case hash == "":
		return errEmptyHash
	case strings.HasPrefix(hash, "$argon2id$"):
		return compareArgon2(hash, password)
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	default:
		return errUnsupportedHash
	}
}

func compareArgon2(encoded, password string) error {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 {
		return errUnsupportedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return errUnsupportedHash
	}
	var (
		memory, iterations uint32
		threads            uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return errUnsupportedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return errUnsupportedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return errUnsupportedHash
	}
	candidate := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(key))) //nolint:gosec // key length is small
	if subtle.ConstantTimeCompare(key, candidate) != 1 {
		return errMismatch
	}
	return nil
}

// ValidatePassword enforces the password strength policy shared by
// registration and password reset.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, minPasswordLength)
	}
	if n > maxPasswordLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrWeakPassword, maxPasswordLength)
	}
	var upper, lower, letter bool
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			return fmt.Errorf("%w: must not contain whitespace", ErrWeakPassword)
		case unicode.IsUpper(r):
			upper, letter = true, true
		case unicode.IsLower(r):
			lower, letter = true, true
		case unicode.IsLetter(r):
			letter = true
		}
	}
	if !letter {
		return fmt.Errorf("%w: must contain letters", ErrWeakPassword)
	}
	if !upper {
		return fmt.Errorf("%w: must contain an uppercase letter", ErrWeakPassword)
	}
	if !lower {
		return fmt.Errorf("%w: must contain a lowercase letter", ErrWeakPassword)
	}
	return nil
}
