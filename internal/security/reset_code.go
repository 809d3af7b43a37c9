package security

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const ResetCodeDigits = 6

var errInvalidResetCode = errors.New("reset code must be 6 digits")

// GenerateResetCode derives a 6-digit numeric code from a fresh random TOTP secret.
func GenerateResetCode(now time.Time) (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("read code secret: %w", err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
	code, err := totp.GenerateCodeCustom(encoded, now, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate reset code: %w", err)
	}
	return code, nil
}

// IsWellFormedResetCode reports whether code is exactly six ASCII digits.
func IsWellFormedResetCode(code string) bool {
	if len(code) != ResetCodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// CodeHasher stores reset codes as salted bcrypt hashes.
type CodeHasher struct {
	cost int
}

func NewCodeHasher(cost int) *CodeHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CodeHasher{cost: cost}
}

func (h *CodeHasher) Hash(code string) (string, error) {
	if !IsWellFormedResetCode(code) {
		return "", errInvalidResetCode
	}
	raw, err := bcrypt.GenerateFromPassword([]byte(code), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash reset code: %w", err)
	}
	return string(raw), nil
}

// Matches compares code with a stored hash in constant time.
func (h *CodeHasher) Matches(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
