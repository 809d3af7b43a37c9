package security

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Stronger#Pass123")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	ok, err := VerifyPassword(hash, "Stronger#Pass123")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification success")
	}
	ok, err = VerifyPassword(hash, "wrong-pass")
	if err != nil {
		t.Fatalf("verify wrong password errored: %v", err)
	}
	if ok {
		t.Fatal("expected password verification failure")
	}
}

func TestVerifyPasswordAcceptsBcryptHashes(t *testing.T) {
	raw, err := bcrypt.GenerateFromPassword([]byte("p1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash: %v", err)
	}
	ok, err := VerifyPassword(string(raw), "p1")
	if err != nil || !ok {
		t.Fatalf("expected bcrypt match, ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword(string(raw), "p2")
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch without error, ok=%v err=%v", ok, err)
	}
}

func TestVerifyPasswordRejectsUnknownFormat(t *testing.T) {
	_, err := VerifyPassword("plaintext", "plaintext")
	if !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestGenerateTemporaryPassword(t *testing.T) {
	a, err := GenerateTemporaryPassword(16)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := GenerateTemporaryPassword(16)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(a) != 16 || a == b {
		t.Fatalf("expected distinct 16 char passwords, got %q and %q", a, b)
	}
	for _, r := range a {
		if !strings.ContainsRune(tempPasswordAlphabet, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
	if _, err := GenerateTemporaryPassword(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
