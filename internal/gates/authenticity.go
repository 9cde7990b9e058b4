package gates

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	dErrors "patron/pkg/domain-errors"
)

// DefaultMaxEventAge is the freshness window applied when none is configured.
const DefaultMaxEventAge = 300 * time.Second

// SignaturePrefix is the optional scheme prefix on webhook signatures.
const SignaturePrefix = "sha256="

// EventAuthenticity is the input to ProviderEventAuthenticity.
type EventAuthenticity struct {
	Body      []byte
	Signature string
	Secret    string
	// Timestamp is the signed send time; the zero value skips the freshness check.
	Timestamp time.Time
	Now       time.Time
	MaxAge    time.Duration
}

// ProviderEventAuthenticity (G4) verifies the HMAC-SHA256 signature of a raw
// webhook body and, when a timestamp is supplied, that it lies within MaxAge
// of Now in either direction.
//
// An empty Secret passes with Skipped set; the caller is expected to log it.
//
// This is pure domain logic - no I/O, no side effects.
func ProviderEventAuthenticity(in EventAuthenticity) Result {
	if in.Secret == "" {
		r := pass(GateProviderEventAuthenticity)
		r.Skipped = true
		r.Message = "no secret configured, signature validation skipped"
		return r
	}
	sig := strings.TrimSpace(in.Signature)
	if sig == "" {
		return fail(GateProviderEventAuthenticity, dErrors.CodeUnauthenticated, ReasonMissingSignature,
			"missing signature header", nil)
	}
	sig = strings.ToLower(strings.TrimPrefix(sig, SignaturePrefix))

	expected := Sign(in.Secret, in.Body)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return fail(GateProviderEventAuthenticity, dErrors.CodeUnauthenticated, ReasonBadSignature,
			"invalid signature", nil)
	}

	if !in.Timestamp.IsZero() {
		maxAge := in.MaxAge
		if maxAge <= 0 {
			maxAge = DefaultMaxEventAge
		}
		age := in.Now.Sub(in.Timestamp)
		if age < 0 {
			age = -age
		}
		if age > maxAge {
			return fail(GateProviderEventAuthenticity, dErrors.CodeUnauthenticated, ReasonStaleTimestamp,
				fmt.Sprintf("timestamp too old (%ds > %ds)", int64(age.Seconds()), int64(maxAge.Seconds())),
				map[string]any{"age_seconds": int64(age.Seconds())})
		}
	}
	return pass(GateProviderEventAuthenticity)
}

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
