package domain

import "strings"

// Kind identifies one engine-observable notification event type.
type Kind string

const (
	// KindClaimable tells an eligible agent a new lead is open to claim.
	KindClaimable Kind = "lead.claimable"
	// KindClaimedByOther tells a losing agent a teammate won the lead.
	KindClaimedByOther Kind = "lead.claimed_by_other"
	// KindAssignedToYou tells an agent they now own the lead.
	KindAssignedToYou Kind = "lead.assigned_to_you"
	// KindExpired tells previously eligible agents the window closed unclaimed.
	KindExpired Kind = "lead.expired"
)

// NormalizeKind normalizes a producer-provided kind token.
func NormalizeKind(raw string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether the kind is one the engine publishes.
func (k Kind) Valid() bool {
	switch k {
	case KindClaimable, KindClaimedByOther, KindAssignedToYou, KindExpired:
		return true
	default:
		return false
	}
}
