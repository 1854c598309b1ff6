package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/habitar/leadengine/internal/platform/id"
)

const defaultSweepBatchSize = 100

var tracer = otel.Tracer("github.com/habitar/leadengine/internal/services/leads/domain")

// endSpan closes a span, marking it failed when the operation errored.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Store is the domain persistence boundary for lead lifecycle behavior.
//
// AssignOwner is the single contended operation: it must set the owner with
// a conditional write that succeeds only while the lead is still in
// window_open with no owner, and report whether this caller won. Everything
// else is plain reads and writes.
type Store interface {
	CreateLead(ctx context.Context, lead Lead, eligibleAgentIDs []string) error
	GetLead(ctx context.Context, leadID string) (Lead, error)
	EligibleAgentIDs(ctx context.Context, leadID string) ([]string, error)
	ListClaimableLeads(ctx context.Context, agentID string, now time.Time) ([]Lead, error)
	ListExpiredOpenLeads(ctx context.Context, now time.Time, limit int) ([]Lead, error)
	AssignOwner(ctx context.Context, leadID string, agentID string, status LeadStatus, at time.Time) (bool, error)

	UpsertAgent(ctx context.Context, agent Agent) error
	GetAgent(ctx context.Context, agentID string) (Agent, error)
	AgentsByID(ctx context.Context, agentIDs []string) (map[string]Agent, error)
	CountOwnedLeads(ctx context.Context, agentIDs []string) (map[string]int, error)

	ListRules(ctx context.Context) ([]RoutingRule, error)
	ReplaceRules(ctx context.Context, rules []RoutingRule) error

	GetPool(ctx context.Context, poolID string) (Pool, error)
	ListPools(ctx context.Context) (map[string]Pool, error)
	PutPool(ctx context.Context, pool Pool) error
	SetPoolCursor(ctx context.Context, poolID string, cursor int) error
}

// Notifier fans engine events out to agents. Implementations must not block
// the claim path; delivery is at-least-once and failures never unwind an
// ownership transition.
type Notifier interface {
	LeadClaimable(ctx context.Context, lead Lead, eligibleAgentIDs []string)
	LeadClaimed(ctx context.Context, lead Lead, winnerAgentID string, eligibleAgentIDs []string)
	LeadExpired(ctx context.Context, lead Lead, fallbackAgentID string, eligibleAgentIDs []string)
}

// Config carries claim window policy.
type Config struct {
	// WindowDuration bounds how long eligible agents may race to claim.
	WindowDuration time.Duration
	// DefaultPoolID catches leads no routing rule matches.
	DefaultPoolID string
	// EnforceCapacityOnClaim also applies agent capacity ceilings to human
	// claims; by default capacity only gates fallback rotation.
	EnforceCapacityOnClaim bool
	// SweepBatchSize caps expired leads processed per sweep pass.
	SweepBatchSize int
}

// Service owns the lead claim state machine: window open, claim race
// resolution, and expiry fallback.
type Service struct {
	store    Store
	notifier Notifier
	config   Config
	clock    func() time.Time
	newID    func() (string, error)
}

// NewService constructs lead engine use-cases.
func NewService(store Store, notifier Notifier, config Config, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = defaultSweepBatchSize
	}
	return &Service{
		store:    store,
		notifier: notifier,
		config:   config,
		clock:    clock,
		newID:    newID,
	}
}

// SubmitLeadInput describes one new lead from the intake collaborator.
type SubmitLeadInput struct {
	Language string
	Segment  Segment
	Budget   int64
	Location string
}

// SubmitLead creates a lead, computes its eligible agent set, and opens its
// claim window in one step. The claimable fan-out happens after the lead is
// durable.
func (s *Service) SubmitLead(ctx context.Context, input SubmitLeadInput) (Lead, error) {
	if s == nil || s.store == nil {
		return Lead{}, ErrStoreNotConfigured
	}
	language := strings.TrimSpace(strings.ToLower(input.Language))
	if language == "" {
		return Lead{}, ErrLanguageRequired
	}
	segment := Segment(strings.TrimSpace(strings.ToLower(string(input.Segment))))
	if segment == "" {
		return Lead{}, ErrSegmentRequired
	}

	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return Lead{}, fmt.Errorf("list routing rules: %w", err)
	}
	pools, err := s.store.ListPools(ctx)
	if err != nil {
		return Lead{}, fmt.Errorf("list pools: %w", err)
	}

	leadID, err := s.newID()
	if err != nil {
		return Lead{}, fmt.Errorf("generate lead id: %w", err)
	}
	now := s.nowUTC()
	expiresAt := now.Add(s.config.WindowDuration)
	lead := Lead{
		ID:                   leadID,
		Language:             language,
		Segment:              segment,
		Budget:               input.Budget,
		Location:             strings.TrimSpace(input.Location),
		Status:               LeadStatusWindowOpen,
		ClaimWindowExpiresAt: &expiresAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	eligibility, err := Evaluate(lead, rules, pools, s.config.DefaultPoolID)
	if err != nil {
		return Lead{}, err
	}
	lead.FallbackPoolID = eligibility.FallbackPoolID

	if err := s.store.CreateLead(ctx, lead, eligibility.AgentIDs); err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	if s.notifier != nil {
		s.notifier.LeadClaimable(ctx, lead, eligibility.AgentIDs)
	}
	return lead, nil
}

// Claim attempts to take ownership of an open lead for one agent.
//
// The decision point is a single compare-and-set on the owner column:
// among any number of concurrent callers (including the sweep's fallback
// assignment) exactly one wins. Losers observe ErrClaimConflict or, when
// fallback landed first, ErrWindowExpired, with no side effects.
func (s *Service) Claim(ctx context.Context, leadID string, agentID string) (_ Lead, err error) {
	if s == nil || s.store == nil {
		return Lead{}, ErrStoreNotConfigured
	}
	leadID = strings.TrimSpace(leadID)
	agentID = strings.TrimSpace(agentID)
	if leadID == "" || agentID == "" {
		return Lead{}, ErrNotFound
	}

	ctx, span := tracer.Start(ctx, "leads.claim", trace.WithAttributes(
		attribute.String("lead.id", leadID),
		attribute.String("agent.id", agentID),
	))
	defer func() { endSpan(span, err) }()

	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return Lead{}, err
	}
	switch lead.Status {
	case LeadStatusWindowOpen:
	case LeadStatusClaimed:
		return Lead{}, ErrClaimConflict
	case LeadStatusExpiredFallback:
		return Lead{}, ErrWindowExpired
	default:
		return Lead{}, ErrWindowNotOpen
	}

	eligible, err := s.store.EligibleAgentIDs(ctx, leadID)
	if err != nil {
		return Lead{}, fmt.Errorf("load eligible agents: %w", err)
	}
	if !containsID(eligible, agentID) {
		return Lead{}, ErrIneligibleAgent
	}

	now := s.nowUTC()
	if lead.ClaimWindowExpiresAt == nil || !now.Before(*lead.ClaimWindowExpiresAt) {
		return Lead{}, ErrWindowExpired
	}

	if s.config.EnforceCapacityOnClaim {
		if err := s.checkClaimCapacity(ctx, agentID); err != nil {
			return Lead{}, err
		}
	}

	won, err := s.store.AssignOwner(ctx, leadID, agentID, LeadStatusClaimed, now)
	if err != nil {
		return Lead{}, fmt.Errorf("assign owner: %w", err)
	}
	if !won {
		return Lead{}, s.loserOutcome(ctx, leadID)
	}

	lead.Status = LeadStatusClaimed
	lead.OwnerAgentID = agentID
	lead.UpdatedAt = now
	if s.notifier != nil {
		s.notifier.LeadClaimed(ctx, lead, agentID, eligible)
	}
	return lead, nil
}

// ListClaimable returns open, unexpired leads the agent may still claim.
func (s *Service) ListClaimable(ctx context.Context, agentID string) ([]Lead, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, ErrNotFound
	}
	return s.store.ListClaimableLeads(ctx, agentID, s.nowUTC())
}

// SweepResult summarizes one expiry pass.
type SweepResult struct {
	// Assigned counts leads handed to fallback owners.
	Assigned int
	// Held counts leads kept back because their pool had no eligible agent.
	Held int
	// LostRaces counts leads a human claim won while the sweep was processing.
	LostRaces int
}

// Sweep transitions leads whose claim window has passed to fallback
// ownership via pool rotation.
//
// The fallback write goes through the same compare-and-set as a human
// claim, so a claim landing mid-sweep simply wins and the sweep's attempt
// is a no-op. Pools with no eligible member hold their leads for the next
// pass; that is the one operational failure worth an operator's attention,
// so it is logged loudly rather than dropped.
func (s *Service) Sweep(ctx context.Context) (_ SweepResult, err error) {
	if s == nil || s.store == nil {
		return SweepResult{}, ErrStoreNotConfigured
	}
	ctx, span := tracer.Start(ctx, "leads.sweep")
	defer func() { endSpan(span, err) }()

	now := s.nowUTC()
	expired, err := s.store.ListExpiredOpenLeads(ctx, now, s.config.SweepBatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired leads: %w", err)
	}

	var result SweepResult
	for _, lead := range expired {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := s.sweepLead(ctx, lead, now)
		if err != nil {
			if errors.Is(err, ErrNoEligibleAgent) {
				result.Held++
				log.Printf("lead %s held: pool %s has no eligible agent", lead.ID, lead.FallbackPoolID)
				continue
			}
			return result, err
		}
		if outcome {
			result.Assigned++
		} else {
			result.LostRaces++
		}
	}
	span.SetAttributes(
		attribute.Int("sweep.assigned", result.Assigned),
		attribute.Int("sweep.held", result.Held),
		attribute.Int("sweep.lost_races", result.LostRaces),
	)
	return result, nil
}

func (s *Service) sweepLead(ctx context.Context, lead Lead, now time.Time) (assigned bool, err error) {
	pool, err := s.store.GetPool(ctx, lead.FallbackPoolID)
	if err != nil {
		return false, fmt.Errorf("load fallback pool %s: %w", lead.FallbackPoolID, err)
	}
	agents, err := s.store.AgentsByID(ctx, pool.MemberIDs)
	if err != nil {
		return false, fmt.Errorf("load pool agents: %w", err)
	}
	ownedCounts, err := s.store.CountOwnedLeads(ctx, pool.MemberIDs)
	if err != nil {
		return false, fmt.Errorf("count owned leads: %w", err)
	}

	fallbackAgentID, err := NextInRotation(pool, agents, ownedCounts)
	if err != nil {
		return false, err
	}

	won, err := s.store.AssignOwner(ctx, lead.ID, fallbackAgentID, LeadStatusExpiredFallback, now)
	if err != nil {
		return false, fmt.Errorf("assign fallback owner: %w", err)
	}
	if !won {
		// A human claim landed between the scan and the write.
		return false, nil
	}

	if err := s.store.SetPoolCursor(ctx, pool.ID, AdvanceRotation(pool, fallbackAgentID)); err != nil {
		return true, fmt.Errorf("advance pool cursor: %w", err)
	}

	lead.Status = LeadStatusExpiredFallback
	lead.OwnerAgentID = fallbackAgentID
	lead.UpdatedAt = now
	if s.notifier != nil {
		eligible, eligibleErr := s.store.EligibleAgentIDs(ctx, lead.ID)
		if eligibleErr != nil {
			log.Printf("lead %s: load eligible agents for expiry fan-out: %v", lead.ID, eligibleErr)
		}
		s.notifier.LeadExpired(ctx, lead, fallbackAgentID, eligible)
	}
	return true, nil
}

// ReplaceRoutingRules swaps the rule set consumed by evaluation.
func (s *Service) ReplaceRoutingRules(ctx context.Context, rules []RoutingRule) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	now := s.nowUTC()
	prepared := make([]RoutingRule, 0, len(rules))
	for _, rule := range rules {
		rule.PoolID = strings.TrimSpace(rule.PoolID)
		if rule.PoolID == "" {
			return fmt.Errorf("routing rule %q: pool id is required", rule.ID)
		}
		if strings.TrimSpace(rule.ID) == "" {
			ruleID, err := s.newID()
			if err != nil {
				return fmt.Errorf("generate rule id: %w", err)
			}
			rule.ID = ruleID
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now
		prepared = append(prepared, rule)
	}
	return s.store.ReplaceRules(ctx, prepared)
}

// ConfigureRoundRobinPool replaces pool membership and order.
//
// The cursor is clamped to the new membership size so rotation resumes
// at a valid position instead of resetting fairness on every edit.
func (s *Service) ConfigureRoundRobinPool(ctx context.Context, poolID string, name string, memberIDs []string) (Pool, error) {
	if s == nil || s.store == nil {
		return Pool{}, ErrStoreNotConfigured
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return Pool{}, ErrNotFound
	}

	now := s.nowUTC()
	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Pool{}, err
		}
		pool = Pool{ID: poolID, CreatedAt: now}
	}
	if strings.TrimSpace(name) != "" {
		pool.Name = strings.TrimSpace(name)
	}

	members := make([]string, 0, len(memberIDs))
	seen := make(map[string]struct{})
	for _, memberID := range memberIDs {
		memberID = strings.TrimSpace(memberID)
		if memberID == "" {
			continue
		}
		if _, dup := seen[memberID]; dup {
			continue
		}
		if _, err := s.store.GetAgent(ctx, memberID); err != nil {
			return Pool{}, fmt.Errorf("pool member %s: %w", memberID, err)
		}
		seen[memberID] = struct{}{}
		members = append(members, memberID)
	}

	pool.MemberIDs = members
	if len(members) == 0 {
		pool.Cursor = 0
	} else if pool.Cursor >= len(members) {
		pool.Cursor = pool.Cursor % len(members)
	}
	pool.UpdatedAt = now
	if err := s.store.PutPool(ctx, pool); err != nil {
		return Pool{}, fmt.Errorf("put pool: %w", err)
	}
	return pool, nil
}

// UpsertAgent registers or updates one sales agent.
func (s *Service) UpsertAgent(ctx context.Context, agent Agent) (Agent, error) {
	if s == nil || s.store == nil {
		return Agent{}, ErrStoreNotConfigured
	}
	agent.ID = strings.TrimSpace(agent.ID)
	if agent.ID == "" {
		agentID, err := s.newID()
		if err != nil {
			return Agent{}, fmt.Errorf("generate agent id: %w", err)
		}
		agent.ID = agentID
	}
	normalized := make([]string, 0, len(agent.Languages))
	for _, language := range agent.Languages {
		language = strings.TrimSpace(strings.ToLower(language))
		if language != "" {
			normalized = append(normalized, language)
		}
	}
	agent.Languages = normalized
	now := s.nowUTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if err := s.store.UpsertAgent(ctx, agent); err != nil {
		return Agent{}, fmt.Errorf("upsert agent: %w", err)
	}
	return agent, nil
}

// GetLead loads one lead by ID.
func (s *Service) GetLead(ctx context.Context, leadID string) (Lead, error) {
	if s == nil || s.store == nil {
		return Lead{}, ErrStoreNotConfigured
	}
	return s.store.GetLead(ctx, strings.TrimSpace(leadID))
}

func (s *Service) checkClaimCapacity(ctx context.Context, agentID string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Capacity <= 0 {
		return nil
	}
	counts, err := s.store.CountOwnedLeads(ctx, []string{agentID})
	if err != nil {
		return fmt.Errorf("count owned leads: %w", err)
	}
	if counts[agentID] >= agent.Capacity {
		return ErrIneligibleAgent
	}
	return nil
}

// loserOutcome picks the error a losing claimant sees based on who won.
func (s *Service) loserOutcome(ctx context.Context, leadID string) error {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return ErrClaimConflict
	}
	if lead.Status == LeadStatusExpiredFallback {
		return ErrWindowExpired
	}
	return ErrClaimConflict
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func containsID(ids []string, target string) bool {
	for _, candidate := range ids {
		if candidate == target {
			return true
		}
	}
	return false
}
