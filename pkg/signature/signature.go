// Package signature signs outbound webhook bodies and verifies them on the
// receiving side.
//
// The signature is the lowercase hex HMAC-SHA256 of the exact request body,
// keyed by the subscription secret, sent in the X-HookQ-Signature header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/osvaldoandrade/hookq/pkg/domain"
)

const (
	HeaderSignature = "X-HookQ-Signature"
	HeaderEventID   = "X-HookQ-Event-Id"
	HeaderTrigger   = "X-HookQ-Trigger"
	HeaderAttempt   = "X-HookQ-Delivery-Attempt"

	// Algorithm is informational; receivers may also accept a "sha256=" prefix.
	Algorithm = "sha256"
)

// Sign returns hex(HMAC-SHA256(secret, body)). An empty secret is a broken
// store invariant, reported as a FatalConfigurationError.
func Sign(secret string, body []byte) (string, error) {
	if secret == "" {
		return "", &domain.FatalConfigurationError{Reason: "sign payload", Err: domain.ErrMissingSecret}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig matches body under secret, in constant time.
func Verify(secret string, body []byte, sig string) bool {
	if secret == "" {
		return false
	}
	sig = strings.TrimPrefix(strings.TrimSpace(sig), Algorithm+"=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
