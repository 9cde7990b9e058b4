package gates

import (
	"slices"
	"strings"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// Evidence is a corroborating fact supplied with a merge request.
type Evidence string

const (
	EvidenceStaffOverride        Evidence = "staff_override"
	EvidenceSameVerifiedPhone    Evidence = "same_verified_phone"
	EvidenceSameVerifiedEmail    Evidence = "same_verified_email"
	EvidenceSameVerifiedWhatsApp Evidence = "same_verified_whatsapp"
)

// StrongEvidence is the set of evidence accepted by MergeSafety.
var StrongEvidence = []Evidence{
	EvidenceStaffOverride,
	EvidenceSameVerifiedPhone,
	EvidenceSameVerifiedEmail,
	EvidenceSameVerifiedWhatsApp,
}

// MergeSafety (G6) fails when source equals target or when evidence holds no
// member of StrongEvidence. Unknown evidence is ignored.
//
// This is pure domain logic - no I/O, no side effects.
func MergeSafety(source, target id.CustomerID, evidence []Evidence) Result {
	if source == target {
		return fail(GateMergeSafety, dErrors.CodeInvalidTransition, ReasonSelfMerge,
			"cannot merge customer into itself", nil)
	}
	var strong []string
	for _, e := range evidence {
		if slices.Contains(StrongEvidence, e) && !slices.Contains(strong, string(e)) {
			strong = append(strong, string(e))
		}
	}
	if len(strong) == 0 {
		valid := make([]string, 0, len(StrongEvidence))
		for _, e := range StrongEvidence {
			valid = append(valid, string(e))
		}
		return fail(GateMergeSafety, dErrors.CodeInvalidTransition, ReasonInsufficientEvidence,
			"insufficient evidence for merge; requires one of: "+strings.Join(valid, ", "),
			map[string]any{"valid_evidence": valid})
	}
	r := pass(GateMergeSafety)
	r.Details = map[string]any{"evidence": strong}
	return r
}
