// Package csrf provides CSRF protection using server-side session tokens.
//
// The flow works by:
// 1. The client requests a token and receives it together with a session id
// 2. The server stores the token, its expiry and the requesting client address
// 3. State-changing requests echo both values in the X-CSRF-Token and
//    X-Session-ID headers, and the server checks them against the store
//
// The client address binding is best-effort. Addresses change behind proxies
// and mobile networks, so a mismatch simply forces the client to fetch a new
// token.
package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// HeaderToken is the request header carrying the CSRF token.
	HeaderToken = "X-CSRF-Token"

	// HeaderSessionID is the request header carrying the session id.
	HeaderSessionID = "X-Session-ID"

	// TokenLength is the number of random bytes for the token (32 bytes = 256 bits).
	TokenLength = 32

	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = time.Hour

	// DefaultSweepInterval is how often expired records are removed.
	DefaultSweepInterval = 5 * time.Minute
)

// =============================================================================
// Token Generation
// =============================================================================

// GenerateToken generates a cryptographically secure random token.
//
// The token is 32 bytes of random data, hex-encoded (64 characters).
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateSessionID derives a session id from the client address, user agent
// and issuance time. Collisions are tolerable: session ids are bearer values,
// not identities.
func GenerateSessionID(clientIP, userAgent string, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", clientIP, userAgent, at.UnixMilli())))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// Token Validation
// =============================================================================

// ValidateToken compares the stored token with the presented one.
//
// Uses constant-time comparison to prevent timing attacks.
func ValidateToken(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// ShortID truncates a session id for logging.
func ShortID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8] + "..."
}
