package domain

import "time"

// RoutingRule maps lead attributes to one eligible agent pool.
//
// Rules evaluate in (Priority ascending, ID ascending) order so eligibility
// computation is reproducible for the same lead snapshot.
type RoutingRule struct {
	ID       string
	Priority int
	// Language matches leads with the same language; empty means any.
	Language string
	// Segment matches leads in the same tier; empty means any.
	Segment Segment
	// MinBudget matches leads with a declared budget at or above this
	// value; zero means any. Leads without a declared budget skip the rule.
	MinBudget int64
	// Location matches leads with the same declared location; empty means
	// any. Leads without a declared location skip the rule.
	Location  string
	PoolID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pool is an ordered set of agents used as the rotation basis for
// fallback assignment.
type Pool struct {
	ID   string
	Name string
	// MemberIDs is the rotation order.
	MemberIDs []string
	// Cursor indexes the next member due a fallback assignment.
	Cursor    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether the agent is a pool member.
func (p Pool) Contains(agentID string) bool {
	for _, member := range p.MemberIDs {
		if member == agentID {
			return true
		}
	}
	return false
}
