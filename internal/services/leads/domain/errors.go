package domain

import "errors"

var (
	// ErrNotFound indicates an unknown lead, agent, or pool identifier.
	ErrNotFound = errors.New("record not found")
	// ErrClaimConflict indicates another claim already won the lead.
	ErrClaimConflict = errors.New("lead already claimed")
	// ErrWindowExpired indicates the claim window closed before this claim arrived.
	ErrWindowExpired = errors.New("claim window expired")
	// ErrIneligibleAgent indicates the caller is not in the lead's eligible set.
	ErrIneligibleAgent = errors.New("agent not eligible for lead")
	// ErrNoEligibleAgent indicates every pool member is paused or at capacity.
	ErrNoEligibleAgent = errors.New("no eligible agent in pool")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("lead store is not configured")
	// ErrLanguageRequired indicates a lead is missing its language attribute.
	ErrLanguageRequired = errors.New("lead language is required")
	// ErrSegmentRequired indicates a lead is missing its segment attribute.
	ErrSegmentRequired = errors.New("lead segment is required")
	// ErrDefaultPoolRequired indicates routing configuration has no default pool.
	ErrDefaultPoolRequired = errors.New("default routing pool is required")
	// ErrWindowNotOpen indicates the lead has no open claim window.
	ErrWindowNotOpen = errors.New("claim window is not open")
)
