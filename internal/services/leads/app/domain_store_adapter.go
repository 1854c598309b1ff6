package app

import (
	"context"
	"errors"
	"time"

	"github.com/habitar/leadengine/internal/services/leads/domain"
	"github.com/habitar/leadengine/internal/services/leads/storage"
)

// engineStore groups the persistence interfaces the domain service needs.
type engineStore interface {
	storage.LeadStore
	storage.AgentStore
	storage.RoutingStore
}

type domainStoreAdapter struct {
	store engineStore
}

func newDomainStoreAdapter(store engineStore) *domainStoreAdapter {
	return &domainStoreAdapter{store: store}
}

func (a *domainStoreAdapter) CreateLead(ctx context.Context, lead domain.Lead, eligibleAgentIDs []string) error {
	return mapStorageError(a.store.CreateLead(ctx, toStorageLead(lead), eligibleAgentIDs))
}

func (a *domainStoreAdapter) GetLead(ctx context.Context, leadID string) (domain.Lead, error) {
	record, err := a.store.GetLead(ctx, leadID)
	if err != nil {
		return domain.Lead{}, mapStorageError(err)
	}
	return toDomainLead(record), nil
}

func (a *domainStoreAdapter) EligibleAgentIDs(ctx context.Context, leadID string) ([]string, error) {
	agentIDs, err := a.store.EligibleAgentIDs(ctx, leadID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return agentIDs, nil
}

func (a *domainStoreAdapter) ListClaimableLeads(ctx context.Context, agentID string, now time.Time) ([]domain.Lead, error) {
	records, err := a.store.ListClaimableLeads(ctx, agentID, now)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return toDomainLeads(records), nil
}

func (a *domainStoreAdapter) ListExpiredOpenLeads(ctx context.Context, now time.Time, limit int) ([]domain.Lead, error) {
	records, err := a.store.ListExpiredOpenLeads(ctx, now, limit)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return toDomainLeads(records), nil
}

func (a *domainStoreAdapter) AssignOwner(ctx context.Context, leadID string, agentID string, status domain.LeadStatus, at time.Time) (bool, error) {
	won, err := a.store.AssignOwner(ctx, leadID, agentID, string(status), at)
	if err != nil {
		return false, mapStorageError(err)
	}
	return won, nil
}

func (a *domainStoreAdapter) UpsertAgent(ctx context.Context, agent domain.Agent) error {
	return mapStorageError(a.store.UpsertAgent(ctx, toStorageAgent(agent)))
}

func (a *domainStoreAdapter) GetAgent(ctx context.Context, agentID string) (domain.Agent, error) {
	record, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Agent{}, mapStorageError(err)
	}
	return toDomainAgent(record), nil
}

func (a *domainStoreAdapter) AgentsByID(ctx context.Context, agentIDs []string) (map[string]domain.Agent, error) {
	records, err := a.store.AgentsByID(ctx, agentIDs)
	if err != nil {
		return nil, mapStorageError(err)
	}
	agents := make(map[string]domain.Agent, len(records))
	for agentID, record := range records {
		agents[agentID] = toDomainAgent(record)
	}
	return agents, nil
}

func (a *domainStoreAdapter) CountOwnedLeads(ctx context.Context, agentIDs []string) (map[string]int, error) {
	counts, err := a.store.CountOwnedLeads(ctx, agentIDs)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return counts, nil
}

func (a *domainStoreAdapter) ListRules(ctx context.Context) ([]domain.RoutingRule, error) {
	records, err := a.store.ListRules(ctx)
	if err != nil {
		return nil, mapStorageError(err)
	}
	rules := make([]domain.RoutingRule, 0, len(records))
	for _, record := range records {
		rules = append(rules, toDomainRule(record))
	}
	return rules, nil
}

func (a *domainStoreAdapter) ReplaceRules(ctx context.Context, rules []domain.RoutingRule) error {
	records := make([]storage.RuleRecord, 0, len(rules))
	for _, rule := range rules {
		records = append(records, toStorageRule(rule))
	}
	return mapStorageError(a.store.ReplaceRules(ctx, records))
}

func (a *domainStoreAdapter) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	record, err := a.store.GetPool(ctx, poolID)
	if err != nil {
		return domain.Pool{}, mapStorageError(err)
	}
	return toDomainPool(record), nil
}

func (a *domainStoreAdapter) ListPools(ctx context.Context) (map[string]domain.Pool, error) {
	records, err := a.store.ListPools(ctx)
	if err != nil {
		return nil, mapStorageError(err)
	}
	pools := make(map[string]domain.Pool, len(records))
	for poolID, record := range records {
		pools[poolID] = toDomainPool(record)
	}
	return pools, nil
}

func (a *domainStoreAdapter) PutPool(ctx context.Context, pool domain.Pool) error {
	return mapStorageError(a.store.PutPool(ctx, toStoragePool(pool)))
}

func (a *domainStoreAdapter) SetPoolCursor(ctx context.Context, poolID string, cursor int) error {
	return mapStorageError(a.store.SetPoolCursor(ctx, poolID, cursor))
}

func toStorageLead(lead domain.Lead) storage.LeadRecord {
	return storage.LeadRecord{
		ID:                   lead.ID,
		Language:             lead.Language,
		Segment:              string(lead.Segment),
		Budget:               lead.Budget,
		Location:             lead.Location,
		Status:               string(lead.Status),
		OwnerAgentID:         lead.OwnerAgentID,
		FallbackPoolID:       lead.FallbackPoolID,
		ClaimWindowExpiresAt: lead.ClaimWindowExpiresAt,
		CreatedAt:            lead.CreatedAt,
		UpdatedAt:            lead.UpdatedAt,
	}
}

func toDomainLead(record storage.LeadRecord) domain.Lead {
	return domain.Lead{
		ID:                   record.ID,
		Language:             record.Language,
		Segment:              domain.Segment(record.Segment),
		Budget:               record.Budget,
		Location:             record.Location,
		Status:               domain.LeadStatus(record.Status),
		OwnerAgentID:         record.OwnerAgentID,
		FallbackPoolID:       record.FallbackPoolID,
		ClaimWindowExpiresAt: record.ClaimWindowExpiresAt,
		CreatedAt:            record.CreatedAt,
		UpdatedAt:            record.UpdatedAt,
	}
}

func toDomainLeads(records []storage.LeadRecord) []domain.Lead {
	leads := make([]domain.Lead, 0, len(records))
	for _, record := range records {
		leads = append(leads, toDomainLead(record))
	}
	return leads
}

func toStorageAgent(agent domain.Agent) storage.AgentRecord {
	return storage.AgentRecord{
		ID:        agent.ID,
		Name:      agent.Name,
		Languages: agent.Languages,
		Paused:    agent.Paused,
		Capacity:  agent.Capacity,
		CreatedAt: agent.CreatedAt,
		UpdatedAt: agent.UpdatedAt,
	}
}

func toDomainAgent(record storage.AgentRecord) domain.Agent {
	return domain.Agent{
		ID:        record.ID,
		Name:      record.Name,
		Languages: record.Languages,
		Paused:    record.Paused,
		Capacity:  record.Capacity,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func toStorageRule(rule domain.RoutingRule) storage.RuleRecord {
	return storage.RuleRecord{
		ID:        rule.ID,
		Priority:  rule.Priority,
		Language:  rule.Language,
		Segment:   string(rule.Segment),
		MinBudget: rule.MinBudget,
		Location:  rule.Location,
		PoolID:    rule.PoolID,
		CreatedAt: rule.CreatedAt,
		UpdatedAt: rule.UpdatedAt,
	}
}

func toDomainRule(record storage.RuleRecord) domain.RoutingRule {
	return domain.RoutingRule{
		ID:        record.ID,
		Priority:  record.Priority,
		Language:  record.Language,
		Segment:   domain.Segment(record.Segment),
		MinBudget: record.MinBudget,
		Location:  record.Location,
		PoolID:    record.PoolID,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func toStoragePool(pool domain.Pool) storage.PoolRecord {
	return storage.PoolRecord{
		ID:        pool.ID,
		Name:      pool.Name,
		MemberIDs: pool.MemberIDs,
		Cursor:    pool.Cursor,
		CreatedAt: pool.CreatedAt,
		UpdatedAt: pool.UpdatedAt,
	}
}

func toDomainPool(record storage.PoolRecord) domain.Pool {
	return domain.Pool{
		ID:        record.ID,
		Name:      record.Name,
		MemberIDs: record.MemberIDs,
		Cursor:    record.Cursor,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	return err
}
