// Package storage defines the persistence boundary for lead engine state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested lead, agent, rule, or pool record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// LeadRecord stores one lead row with its ownership and window columns.
type LeadRecord struct {
	ID                   string
	Language             string
	Segment              string
	Budget               int64
	Location             string
	Status               string
	OwnerAgentID         string
	FallbackPoolID       string
	ClaimWindowExpiresAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AgentRecord stores one sales agent row.
type AgentRecord struct {
	ID        string
	Name      string
	Languages []string
	Paused    bool
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RuleRecord stores one routing rule row.
type RuleRecord struct {
	ID        string
	Priority  int
	Language  string
	Segment   string
	MinBudget int64
	Location  string
	PoolID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PoolRecord stores one round-robin pool with its ordered members and cursor.
type PoolRecord struct {
	ID        string
	Name      string
	MemberIDs []string
	Cursor    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeadStore persists lead lifecycle state.
//
// AssignOwner is the conditional write the whole claim protocol hangs on:
// it sets owner and status only while the row is still open and unowned,
// and reports whether this caller's write landed.
type LeadStore interface {
	CreateLead(ctx context.Context, lead LeadRecord, eligibleAgentIDs []string) error
	GetLead(ctx context.Context, leadID string) (LeadRecord, error)
	EligibleAgentIDs(ctx context.Context, leadID string) ([]string, error)
	ListClaimableLeads(ctx context.Context, agentID string, now time.Time) ([]LeadRecord, error)
	ListExpiredOpenLeads(ctx context.Context, now time.Time, limit int) ([]LeadRecord, error)
	AssignOwner(ctx context.Context, leadID string, agentID string, status string, at time.Time) (bool, error)
}

// AgentStore persists agent roster state.
type AgentStore interface {
	UpsertAgent(ctx context.Context, agent AgentRecord) error
	GetAgent(ctx context.Context, agentID string) (AgentRecord, error)
	AgentsByID(ctx context.Context, agentIDs []string) (map[string]AgentRecord, error)
	CountOwnedLeads(ctx context.Context, agentIDs []string) (map[string]int, error)
}

// RoutingStore persists routing rules and round-robin pools.
type RoutingStore interface {
	ListRules(ctx context.Context) ([]RuleRecord, error)
	ReplaceRules(ctx context.Context, rules []RuleRecord) error
	GetPool(ctx context.Context, poolID string) (PoolRecord, error)
	ListPools(ctx context.Context) (map[string]PoolRecord, error)
	PutPool(ctx context.Context, pool PoolRecord) error
	SetPoolCursor(ctx context.Context, poolID string, cursor int) error
}
