// Package gates holds the invariant checks consulted before any identity,
// ledger or webhook mutation.
//
// Every gate returns a Result. Callers that only need a boolean test
// Result.Passed; callers that need a typed failure call Result.Err, which
// yields a *Error carrying the gate name, reason and details and unwrapping
// to the matching domain error code.
//
// Gates never perform the mutation they guard. ReplayProtection is the one
// exception: its success records the nonce, so calling it twice with the same
// nonce fails the second time.
package gates

import (
	"errors"
	"fmt"
	"maps"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// Name identifies a gate in results, errors and metrics.
type Name string

const (
	GateContactPointUniqueness    Name = "G1_ContactPointUniqueness"
	GatePrimaryInvariant          Name = "G2_PrimaryInvariant"
	GateVerifiedTransition        Name = "G3_VerifiedTransition"
	GateProviderEventAuthenticity Name = "G4_ProviderEventAuthenticity"
	GateReplayProtection          Name = "G5_ReplayProtection"
	GateMergeSafety               Name = "G6_MergeSafety"
)

// Reason is a machine-readable failure cause.
type Reason string

const (
	ReasonDuplicateContact     Reason = "duplicate_contact"
	ReasonMultiplePrimaries    Reason = "multiple_primaries"
	ReasonMethodNotAllowed     Reason = "method_not_allowed"
	ReasonMissingSignature     Reason = "missing_signature"
	ReasonBadSignature         Reason = "bad_signature"
	ReasonStaleTimestamp       Reason = "stale_timestamp"
	ReasonMissingNonce         Reason = "missing_nonce"
	ReasonReplay               Reason = "replay"
	ReasonSelfMerge            Reason = "self_merge"
	ReasonInsufficientEvidence Reason = "insufficient_evidence"
)

// Result is the outcome of one gate evaluation.
type Result struct {
	Gate    Name
	Passed  bool
	Skipped bool
	Reason  Reason
	Message string
	Details map[string]any

	// ConflictingCustomerID is set by uniqueness failures.
	ConflictingCustomerID id.CustomerID

	code dErrors.Code
}

func pass(gate Name) Result {
	return Result{Gate: gate, Passed: true}
}

func fail(gate Name, code dErrors.Code, reason Reason, msg string, details map[string]any) Result {
	return Result{
		Gate:    gate,
		Passed:  false,
		Reason:  reason,
		Message: msg,
		Details: details,
		code:    code,
	}
}

// Err returns nil for a passing result and a *Error otherwise.
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	return &Error{
		Gate:                  r.Gate,
		Reason:                r.Reason,
		Message:               r.Message,
		Details:               maps.Clone(r.Details),
		ConflictingCustomerID: r.ConflictingCustomerID,
		Code:                  r.code,
	}
}

// Error is a gate failure. It unwraps to a domain error with the gate's code
// so dErrors.HasCode works on it directly.
type Error struct {
	Gate                  Name
	Reason                Reason
	Message               string
	Details               map[string]any
	ConflictingCustomerID id.CustomerID
	Code                  dErrors.Code
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Gate, e.Message)
}

func (e *Error) Unwrap() error {
	return dErrors.New(e.Code, e.Message)
}

// AsError extracts a gate failure from err's chain.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Body renders the failure as a JSON error envelope with the gate context
// attached.
func (e *Error) Body() map[string]any {
	body := map[string]any{
		"error":             string(e.Code),
		"error_description": e.Message,
		"gate":              string(e.Gate),
		"reason":            string(e.Reason),
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return body
}
