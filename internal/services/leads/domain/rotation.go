package domain

// NextInRotation walks forward from the pool cursor and returns the first
// member that is active and under capacity.
//
// Paused and at-capacity members are skipped without permanently losing
// their turn: the cursor is only moved by AdvanceRotation after an actual
// assignment, so a skipped member is considered again on the next pass.
// When every member is ineligible the walk fails with ErrNoEligibleAgent
// and the caller must hold the lead for a later retry.
func NextInRotation(pool Pool, agents map[string]Agent, ownedCounts map[string]int) (string, error) {
	size := len(pool.MemberIDs)
	if size == 0 {
		return "", ErrNoEligibleAgent
	}
	start := pool.Cursor
	if start < 0 || start >= size {
		start = 0
	}
	for offset := 0; offset < size; offset++ {
		agentID := pool.MemberIDs[(start+offset)%size]
		agent, ok := agents[agentID]
		if !ok || agent.Paused {
			continue
		}
		if agent.Capacity > 0 && ownedCounts[agentID] >= agent.Capacity {
			continue
		}
		return agentID, nil
	}
	return "", ErrNoEligibleAgent
}

// AdvanceRotation returns the cursor position after the assigned member.
//
// It must be called only once that member actually received a lead; a
// pool member no longer present leaves the cursor untouched.
func AdvanceRotation(pool Pool, assignedAgentID string) int {
	for index, member := range pool.MemberIDs {
		if member == assignedAgentID {
			return (index + 1) % len(pool.MemberIDs)
		}
	}
	return pool.Cursor
}
