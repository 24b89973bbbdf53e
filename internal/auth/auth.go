// Package auth implements the Control API's authentication surface: a
// single 32-byte hex root key and per-domain capability tokens derived from
// it with HMAC-SHA256 rather than stored. The persisted API Auth record
// holds the root key itself, since deriving a token needs the key
// material; HashRootKey/CheckRootKey offer a separate bcrypt hash check.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// rootKeyBytes is the spec's 32-byte hex root key (64 hex characters).
const rootKeyBytes = 32

var ErrInvalidRootKey = errors.New("root key must be 32 bytes of hex")

// GenerateRootKey creates a fresh random root key in the spec's hex form.
func GenerateRootKey() (string, error) {
	raw := make([]byte, rootKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate root key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// HashRootKey returns a bcrypt hash of the root key.
func HashRootKey(rootKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rootKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash root key: %w", err)
	}
	return string(hash), nil
}

// CheckRootKey verifies a presented root key against its stored bcrypt hash.
func CheckRootKey(hash, rootKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rootKey)) == nil
}

// DeriveCapabilityToken computes the capability token for a domain:
// HMAC-SHA256(root-key, domain), hex-encoded. This is deterministic and
// never stored — the Control API recomputes it to verify a presented token.
func DeriveCapabilityToken(rootKey, domain string) string {
	mac := hmac.New(sha256.New, []byte(rootKey))
	mac.Write([]byte(domain))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCapabilityToken reports whether presented equals the capability
// token derived for domain under rootKey, using a constant-time comparison.
func VerifyCapabilityToken(rootKey, domain, presented string) bool {
	expected := DeriveCapabilityToken(rootKey, domain)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// capabilityWhitelist is the fixed set of actions a derived capability
// token — as opposed to the root key — may invoke.
var capabilityWhitelist = map[string]bool{
	"mail.send": true,
}

// IsCapabilityAction reports whether action may be invoked by a capability
// token (as opposed to requiring the root key).
func IsCapabilityAction(action string) bool {
	return capabilityWhitelist[action]
}
