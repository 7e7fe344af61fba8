package cryptox

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor shared by every comparison in the
// process. Changing it only affects newly written hashes.
const PasswordCost = 12

// dummyHash is a bcrypt hash of an unguessable throwaway value. It exists so
// that login attempts against unknown accounts still pay the full bcrypt cost
// and keep the timing profile identical to a wrong-password attempt.
var dummyHash = []byte("$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

var (
	ErrPasswordMismatch = errors.New("cryptox: password does not match")
	ErrPasswordPolicy   = errors.New("cryptox: password does not meet policy")
)

// HashPassword returns a bcrypt hash (cost 12, per-hash random salt).
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a bcrypt hash.
func VerifyPassword(password, encodedHash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}

// BurnVerification performs a bcrypt comparison against a dummy hash and
// discards the result. Call it on the "account not found" path so that path
// costs the same as a real verification.
func BurnVerification(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// ValidatePasswordPolicy checks the minimum password requirements: at least
// 8 characters with an upper-case letter, a lower-case letter and a digit.
func ValidatePasswordPolicy(password string) error {
	if len(password) < 8 {
		return ErrPasswordPolicy
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrPasswordPolicy
	}
	return nil
}
