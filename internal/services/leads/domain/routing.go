package domain

import (
	"sort"
	"strings"
)

// Eligibility is the routing outcome for one lead snapshot.
type Eligibility struct {
	// AgentIDs is the deduplicated eligible set, highest-priority pool first.
	AgentIDs []string
	// FallbackPoolID is the pool rotation used if nobody claims in time.
	FallbackPoolID string
}

// Evaluate computes the eligible agent set for a lead.
//
// Rules are walked in (Priority, ID) order; a rule whose predicate needs an
// attribute the lead did not declare is skipped rather than erroring. When no
// rule matches, the default pool catches the lead so evaluation never returns
// empty. Evaluate is pure: it never mutates rules, pools, or the lead.
func Evaluate(lead Lead, rules []RoutingRule, pools map[string]Pool, defaultPoolID string) (Eligibility, error) {
	if strings.TrimSpace(lead.Language) == "" {
		return Eligibility{}, ErrLanguageRequired
	}
	if strings.TrimSpace(string(lead.Segment)) == "" {
		return Eligibility{}, ErrSegmentRequired
	}
	defaultPool, ok := pools[defaultPoolID]
	if !ok {
		return Eligibility{}, ErrDefaultPoolRequired
	}

	ordered := make([]RoutingRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	result := Eligibility{}
	seen := make(map[string]struct{})
	appendPool := func(pool Pool) {
		for _, agentID := range pool.MemberIDs {
			if _, dup := seen[agentID]; dup {
				continue
			}
			seen[agentID] = struct{}{}
			result.AgentIDs = append(result.AgentIDs, agentID)
		}
	}

	for _, rule := range ordered {
		if !ruleMatches(rule, lead) {
			continue
		}
		pool, ok := pools[rule.PoolID]
		if !ok {
			continue
		}
		if result.FallbackPoolID == "" {
			result.FallbackPoolID = pool.ID
		}
		appendPool(pool)
	}

	if len(result.AgentIDs) == 0 || result.FallbackPoolID == "" {
		if result.FallbackPoolID == "" {
			result.FallbackPoolID = defaultPool.ID
		}
		appendPool(defaultPool)
	}
	return result, nil
}

func ruleMatches(rule RoutingRule, lead Lead) bool {
	if rule.Language != "" && !strings.EqualFold(rule.Language, lead.Language) {
		return false
	}
	if rule.Segment != "" && rule.Segment != lead.Segment {
		return false
	}
	if rule.MinBudget > 0 {
		if lead.Budget == 0 {
			// Rule needs a budget the lead never declared.
			return false
		}
		if lead.Budget < rule.MinBudget {
			return false
		}
	}
	if rule.Location != "" {
		if lead.Location == "" {
			return false
		}
		if !strings.EqualFold(rule.Location, lead.Location) {
			return false
		}
	}
	return true
}
