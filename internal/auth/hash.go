package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the digest under which a raw refresh token is persisted.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// passwordFingerprint is a short digest of a password hash. Embedding it in
// reset tokens makes them single use: a redeemed token no longer matches.
func passwordFingerprint(passwordHash string) string {
	sum := sha256.Sum256([]byte("reset:" + passwordHash))
	return hex.EncodeToString(sum[:8])
}

func fingerprintMatches(fingerprint, passwordHash string) bool {
	expected := passwordFingerprint(passwordHash)
	if len(fingerprint) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(fingerprint), []byte(expected)) == 1
}
