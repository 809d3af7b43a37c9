package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateResetCodeIsSixDigits(t *testing.T) {
	now := time.Now()
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		code, err := GenerateResetCode(now)
		require.NoError(t, err)
		assert.True(t, IsWellFormedResetCode(code), "code %q", code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "codes from fresh secrets should differ")
}

func TestIsWellFormedResetCode(t *testing.T) {
	cases := map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		"":        false,
	}
	for code, want := range cases {
		assert.Equal(t, want, IsWellFormedResetCode(code), "code %q", code)
	}
}

func TestCodeHasherRoundTrip(t *testing.T) {
	h := NewCodeHasher(bcrypt.MinCost)

	hash, err := h.Hash("482913")
	require.NoError(t, err)
	assert.NotEqual(t, "482913", hash)
	assert.True(t, h.Matches("482913", hash))
	assert.False(t, h.Matches("482914", hash))

	other, err := h.Hash("482913")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "hashes must be salted")

	_, err = h.Hash("48291")
	assert.Error(t, err)
}

func TestNewCodeHasherClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewCodeHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewCodeHasher(99).cost)
}
