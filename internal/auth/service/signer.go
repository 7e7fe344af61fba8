package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/playerdash/dashboard/pkg/cryptox"
)

var (
	ErrSignatureInvalid = errors.New("request signature invalid")
	ErrSignatureExpired = errors.New("request signature outside validity window")
)

// Signer issues and checks HMAC request signatures for sensitive downstream
// calls. The signature binds the payload to the acting principal and a
// timestamp, and is only honored inside a short window.
type Signer struct {
	key    []byte
	maxAge time.Duration
}

const DefaultSignatureWindow = 30 * time.Second

func NewSigner(key []byte, maxAge time.Duration) (*Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("signer: key must not be empty")
	}
	if maxAge <= 0 {
		maxAge = DefaultSignatureWindow
	}
	return &Signer{key: key, maxAge: maxAge}, nil
}

// Signature is what the client forwards alongside the original payload.
type Signature struct {
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// Sign produces a signature over the payload for the given principal at the
// current time.
func (s *Signer) Sign(principalID, payload string) Signature {
	ts := timeNow().Unix()
	return Signature{
		Signature: cryptox.SignHMAC(s.key, signingMessage(principalID, payload, ts)),
		Timestamp: ts,
	}
}

// Verify checks a signature for authenticity and freshness. Skew is tolerated
// in both directions up to the window.
func (s *Signer) Verify(principalID, payload string, sig Signature) error {
	age := timeNow().Unix() - sig.Timestamp
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > s.maxAge {
		return ErrSignatureExpired
	}
	if !cryptox.VerifyHMAC(s.key, signingMessage(principalID, payload, sig.Timestamp), sig.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyRequest adapts Verify to the header form middleware works with.
func (s *Signer) VerifyRequest(principalID, payload, signature string, timestamp int64) error {
	return s.Verify(principalID, payload, Signature{Signature: signature, Timestamp: timestamp})
}

func signingMessage(principalID, payload string, ts int64) string {
	return fmt.Sprintf("%s|%s|%s", payload, principalID, strconv.FormatInt(ts, 10))
}
