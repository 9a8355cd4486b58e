// Package signing implements HMAC session tokens for the event stream. A
// token binds a user identity to an expiry; verification is constant-time.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedToken = errors.New("malformed session token")
	ErrExpiredToken   = errors.New("session token expired")
	ErrBadSignature   = errors.New("session token signature mismatch")
)

// Signer mints and validates session tokens.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

func (s *Signer) sign(userID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", userID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Token mints a session token for userID valid for ttl.
func (s *Signer) Token(userID string, ttl time.Duration) string {
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s:%d:%s", userID, expires, s.sign(userID, expires))
}

// Verify checks a token and returns the user it identifies.
func (s *Signer) Verify(token string) (string, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}
	userID, expiresStr, sig := parts[0], parts[1], parts[2]
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil || userID == "" {
		return "", ErrMalformedToken
	}
	expected := s.sign(userID, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", ErrBadSignature
	}
	if time.Now().Unix() > expires {
		return "", ErrExpiredToken
	}
	return userID, nil
}
