package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"valid", "Abcdefgh", true},
		{"non-ascii letters", "Pässwort1", true},
		{"maximum length", "A" + strings.Repeat("b", 99), true},
		{"too short", "Ab1!", false},
		{"too long", "A" + strings.Repeat("b", 100), false},
		{"no uppercase", "abcdefgh", false},
		{"no lowercase", "ABCDEFGH", false},
		{"no letters", "12345678", false},
		{"space", "Abcd efgh", false},
		{"tab", "Abcd\tefgh", false},
	}
	for _, tc := range cases {
		err := ValidatePassword(tc.password)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("%s: got %v, want ErrWeakPassword", tc.name, err)
		}
	}
}

func TestArgon2HashAndCompare(t *testing.T) {
	h := fastHasher()
	hash, err := h.Hash("Correct1Horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", hash)
	}
	if err := h.Compare(hash, "Correct1Horse"); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, "Wrong1Horse"); err == nil {
		t.Fatalf("expected mismatch")
	}
	again, err := h.Hash("Correct1Horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if again == hash {
		t.Fatalf("salt was reused")
	}
}

func TestCompareAcceptsBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("Legacy1pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h := fastHasher()
	if err := h.Compare(string(legacy), "Legacy1pass"); err != nil {
		t.Fatalf("Compare bcrypt: %v", err)
	}
	if err := h.Compare(string(legacy), "Legacy2pass"); err == nil {
		t.Fatalf("expected bcrypt mismatch")
	}
}

func TestCompareRejectsUnknownFormats(t *testing.T) {
	h := fastHasher()
	for _, hash := range []string{"", "plaintext", "$argon2id$v=19$broken", "$argon2id$v=18$m=1,t=1,p=1$c2FsdA$a2V5"} {
		if err := h.Compare(hash, "whatever"); err == nil {
			t.Fatalf("%q: expected error", hash)
		}
	}
}
