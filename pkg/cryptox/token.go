package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
)

// OpaqueTokenBytes is the entropy for opaque single-purpose tokens (refresh
// tokens, invitation tokens, reset tokens). 20 random bytes encode to the
// 40-hex-character wire form.
const OpaqueTokenBytes = 20

var hexTokenPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// GenerateOpaqueToken creates a cryptographically random 40-hex-character token.
func GenerateOpaqueToken() (string, error) {
	buf := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidOpaqueToken reports whether s has the shape of a generated opaque token.
// Useful to reject junk before hitting the database.
func ValidOpaqueToken(s string) bool {
	return hexTokenPattern.MatchString(s)
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token as a
// base64url string. Stores keep fingerprints so a database leak never exposes
// usable token values.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SignHMAC computes an HMAC-SHA256 over msg with key, hex encoded.
func SignHMAC(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether sig is a valid HMAC-SHA256 of msg under key,
// using a constant-time comparison.
func VerifyHMAC(key []byte, msg, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hmac.Equal(mac.Sum(nil), want)
}
