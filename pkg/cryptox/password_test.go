package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("P@ssw0rd!1")
	require.NoError(t, err)
	require.NotEqual(t, "P@ssw0rd!1", hash)

	require.NoError(t, VerifyPassword("P@ssw0rd!1", hash))
	require.ErrorIs(t, VerifyPassword("wrong-password", hash), ErrPasswordMismatch)
}

func TestVerifyPasswordRejectsGarbageHash(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, VerifyPassword("whatever", "not-a-bcrypt-hash"), ErrPasswordMismatch)
}

func TestBurnVerificationDoesNotPanic(t *testing.T) {
	t.Parallel()

	BurnVerification("any password at all")
}

func TestValidatePasswordPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"accepts mixed case with digit", "P@ssw0rd!1", true},
		{"accepts minimal valid", "Abcdef12", true},
		{"rejects too short", "Ab1", false},
		{"rejects missing upper", "abcdef12", false},
		{"rejects missing lower", "ABCDEF12", false},
		{"rejects missing digit", "Abcdefgh", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePasswordPolicy(tc.password)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrPasswordPolicy)
			}
		})
	}
}
