package domain

import (
	"strings"
	"time"
)

// LeadStatus identifies one lead ownership lifecycle state.
type LeadStatus string

const (
	// LeadStatusUnassigned means the lead was created and not yet routed.
	LeadStatusUnassigned LeadStatus = "unassigned"
	// LeadStatusWindowOpen means eligible agents may race to claim the lead.
	LeadStatusWindowOpen LeadStatus = "window_open"
	// LeadStatusClaimed means an agent won the claim race.
	LeadStatusClaimed LeadStatus = "claimed"
	// LeadStatusExpiredFallback means the window expired and rotation assigned an owner.
	LeadStatusExpiredFallback LeadStatus = "expired_fallback"
)

// Segment is a coarse lead qualification tier.
type Segment string

const (
	// SegmentHot marks a lead ready to transact.
	SegmentHot Segment = "hot"
	// SegmentWarm marks a lead still comparing options.
	SegmentWarm Segment = "warm"
	// SegmentCold marks an early-stage lead.
	SegmentCold Segment = "cold"
)

// Lead is a prospective client record requiring a single owning agent.
type Lead struct {
	ID       string
	Language string
	Segment  Segment
	// Budget is an opaque routing attribute; zero means undeclared.
	Budget int64
	// Location is an opaque routing attribute; empty means undeclared.
	Location             string
	Status               LeadStatus
	OwnerAgentID         string
	FallbackPoolID       string
	ClaimWindowExpiresAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// WindowOpenAt reports whether the lead's claim window is open at the given instant.
func (l Lead) WindowOpenAt(now time.Time) bool {
	if l.Status != LeadStatusWindowOpen || l.ClaimWindowExpiresAt == nil {
		return false
	}
	return now.Before(*l.ClaimWindowExpiresAt)
}

// Agent is a sales representative eligible to own leads.
type Agent struct {
	ID        string
	Name      string
	Languages []string
	Paused    bool
	// Capacity caps concurrently owned leads; zero means unlimited.
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Speaks reports whether the agent declared the given language.
func (a Agent) Speaks(language string) bool {
	language = strings.TrimSpace(strings.ToLower(language))
	for _, spoken := range a.Languages {
		if strings.TrimSpace(strings.ToLower(spoken)) == language {
			return true
		}
	}
	return false
}
