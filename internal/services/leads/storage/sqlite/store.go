// Package sqlite implements lead engine persistence over modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/habitar/leadengine/internal/platform/storage/sqlitemigrate"
	"github.com/habitar/leadengine/internal/services/leads/storage"
	"github.com/habitar/leadengine/internal/services/leads/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for lead engine state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a lead engine SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// CreateLead atomically persists one lead row with its ordered eligible set.
func (s *Store) CreateLead(ctx context.Context, lead storage.LeadRecord, eligibleAgentIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeLeadRecord(lead)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lead create: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback lead create: %v", cause, rollbackErr)
		}
		return cause
	}

	var owner sql.NullString
	if normalized.OwnerAgentID != "" {
		owner = sql.NullString{String: normalized.OwnerAgentID, Valid: true}
	}
	var expiresAt sql.NullInt64
	if normalized.ClaimWindowExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toMillis(*normalized.ClaimWindowExpiresAt), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO leads (
	id, language, segment, budget, location, status, owner_agent_id,
	fallback_pool_id, claim_window_expires_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		normalized.ID,
		normalized.Language,
		normalized.Segment,
		normalized.Budget,
		normalized.Location,
		normalized.Status,
		owner,
		normalized.FallbackPoolID,
		expiresAt,
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	); err != nil {
		if isUniqueConstraintError(err) {
			return rollbackWith(storage.ErrConflict)
		}
		return rollbackWith(fmt.Errorf("insert lead: %w", err))
	}

	for position, agentID := range eligibleAgentIDs {
		agentID = strings.TrimSpace(agentID)
		if agentID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO lead_eligible_agents (lead_id, agent_id, position) VALUES (?, ?, ?)
`, normalized.ID, agentID, position); err != nil {
			return rollbackWith(fmt.Errorf("insert eligible agent: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lead create: %w", err)
	}
	return nil
}

// GetLead loads one lead row by ID.
func (s *Store) GetLead(ctx context.Context, leadID string) (storage.LeadRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.LeadRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LeadRecord{}, fmt.Errorf("storage is not configured")
	}
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return storage.LeadRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, language, segment, budget, location, status, owner_agent_id,
       fallback_pool_id, claim_window_expires_at, created_at, updated_at
FROM leads
WHERE id = ?
`, leadID)
	record, err := scanLead(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LeadRecord{}, storage.ErrNotFound
		}
		return storage.LeadRecord{}, fmt.Errorf("get lead: %w", err)
	}
	return record, nil
}

// EligibleAgentIDs returns the ordered eligible set recorded at window open.
func (s *Store) EligibleAgentIDs(ctx context.Context, leadID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return nil, storage.ErrNotFound
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT agent_id
FROM lead_eligible_agents
WHERE lead_id = ?
ORDER BY position ASC
`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list eligible agents: %w", err)
	}
	defer rows.Close()

	var agentIDs []string
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, fmt.Errorf("scan eligible agent row: %w", err)
		}
		agentIDs = append(agentIDs, agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible agent rows: %w", err)
	}
	return agentIDs, nil
}

// ListClaimableLeads returns open, unexpired leads the agent may claim,
// oldest window first.
func (s *Store) ListClaimableLeads(ctx context.Context, agentID string, now time.Time) ([]storage.LeadRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, storage.ErrNotFound
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT l.id, l.language, l.segment, l.budget, l.location, l.status, l.owner_agent_id,
       l.fallback_pool_id, l.claim_window_expires_at, l.created_at, l.updated_at
FROM leads l
JOIN lead_eligible_agents e ON e.lead_id = l.id
WHERE e.agent_id = ?
  AND l.status = 'window_open'
  AND l.owner_agent_id IS NULL
  AND l.claim_window_expires_at > ?
ORDER BY l.claim_window_expires_at ASC, l.id ASC
`, agentID, toMillis(now.UTC()))
	if err != nil {
		return nil, fmt.Errorf("list claimable leads: %w", err)
	}
	defer rows.Close()
	return collectLeads(rows)
}

// ListExpiredOpenLeads returns window_open leads whose expiry has passed.
func (s *Store) ListExpiredOpenLeads(ctx context.Context, now time.Time, limit int) ([]storage.LeadRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, language, segment, budget, location, status, owner_agent_id,
       fallback_pool_id, claim_window_expires_at, created_at, updated_at
FROM leads
WHERE status = 'window_open'
  AND owner_agent_id IS NULL
  AND claim_window_expires_at <= ?
ORDER BY claim_window_expires_at ASC, id ASC
LIMIT ?
`, toMillis(now.UTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired leads: %w", err)
	}
	defer rows.Close()
	return collectLeads(rows)
}

// AssignOwner performs the claim compare-and-set.
//
// The UPDATE only lands while the row is still open and unowned, so among
// any set of concurrent callers exactly one observes RowsAffected == 1.
func (s *Store) AssignOwner(ctx context.Context, leadID string, agentID string, status string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	leadID = strings.TrimSpace(leadID)
	agentID = strings.TrimSpace(agentID)
	status = strings.TrimSpace(status)
	if leadID == "" || agentID == "" || status == "" {
		return false, fmt.Errorf("lead id, agent id, and status are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE leads
SET owner_agent_id = ?, status = ?, updated_at = ?
WHERE id = ?
  AND status = 'window_open'
  AND owner_agent_id IS NULL
`, agentID, status, toMillis(at.UTC()), leadID)
	if err != nil {
		return false, fmt.Errorf("assign lead owner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign lead owner rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpsertAgent creates or replaces one agent row.
func (s *Store) UpsertAgent(ctx context.Context, agent storage.AgentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	agent.ID = strings.TrimSpace(agent.ID)
	if agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if agent.CreatedAt.IsZero() || agent.UpdatedAt.IsZero() {
		return fmt.Errorf("agent timestamps are required")
	}
	languagesJSON, err := json.Marshal(agent.Languages)
	if err != nil {
		return fmt.Errorf("encode agent languages: %w", err)
	}

	paused := 0
	if agent.Paused {
		paused = 1
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO agents (id, name, languages_json, paused, capacity, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	languages_json = excluded.languages_json,
	paused = excluded.paused,
	capacity = excluded.capacity,
	updated_at = excluded.updated_at
`,
		agent.ID,
		agent.Name,
		string(languagesJSON),
		paused,
		agent.Capacity,
		toMillis(agent.CreatedAt),
		toMillis(agent.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetAgent loads one agent row by ID.
func (s *Store) GetAgent(ctx context.Context, agentID string) (storage.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AgentRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AgentRecord{}, fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return storage.AgentRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, languages_json, paused, capacity, created_at, updated_at
FROM agents
WHERE id = ?
`, agentID)
	record, err := scanAgent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AgentRecord{}, storage.ErrNotFound
		}
		return storage.AgentRecord{}, fmt.Errorf("get agent: %w", err)
	}
	return record, nil
}

// AgentsByID loads a batch of agent rows keyed by ID. Unknown IDs are
// simply absent from the result.
func (s *Store) AgentsByID(ctx context.Context, agentIDs []string) (map[string]storage.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	result := make(map[string]storage.AgentRecord, len(agentIDs))
	if len(agentIDs) == 0 {
		return result, nil
	}

	placeholders, args := idPlaceholders(agentIDs)
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, languages_json, paused, capacity, created_at, updated_at
FROM agents
WHERE id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, scanErr := scanAgent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan agent row: %w", scanErr)
		}
		result[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}
	return result, nil
}

// CountOwnedLeads counts currently owned leads per agent.
func (s *Store) CountOwnedLeads(ctx context.Context, agentIDs []string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	counts := make(map[string]int, len(agentIDs))
	if len(agentIDs) == 0 {
		return counts, nil
	}

	placeholders, args := idPlaceholders(agentIDs)
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT owner_agent_id, COUNT(1)
FROM leads
WHERE owner_agent_id IN (`+placeholders+`)
GROUP BY owner_agent_id
`, args...)
	if err != nil {
		return nil, fmt.Errorf("count owned leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, fmt.Errorf("scan owned lead count: %w", err)
		}
		counts[agentID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owned lead counts: %w", err)
	}
	return counts, nil
}

// ListRules returns all routing rules in (priority, id) order.
func (s *Store) ListRules(ctx context.Context) ([]storage.RuleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, priority, language, segment, min_budget, location, pool_id, created_at, updated_at
FROM routing_rules
ORDER BY priority ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	defer rows.Close()

	var rules []storage.RuleRecord
	for rows.Next() {
		var rule storage.RuleRecord
		var createdAt int64
		var updatedAt int64
		if err := rows.Scan(
			&rule.ID,
			&rule.Priority,
			&rule.Language,
			&rule.Segment,
			&rule.MinBudget,
			&rule.Location,
			&rule.PoolID,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan routing rule row: %w", err)
		}
		rule.CreatedAt = fromMillis(createdAt)
		rule.UpdatedAt = fromMillis(updatedAt)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing rule rows: %w", err)
	}
	return rules, nil
}

// ReplaceRules atomically swaps the full routing rule set.
func (s *Store) ReplaceRules(ctx context.Context, rules []storage.RuleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rule replace: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback rule replace: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM routing_rules`); err != nil {
		return rollbackWith(fmt.Errorf("clear routing rules: %w", err))
	}
	for _, rule := range rules {
		rule.ID = strings.TrimSpace(rule.ID)
		rule.PoolID = strings.TrimSpace(rule.PoolID)
		if rule.ID == "" || rule.PoolID == "" {
			return rollbackWith(fmt.Errorf("routing rule id and pool id are required"))
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO routing_rules (id, priority, language, segment, min_budget, location, pool_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			rule.ID,
			rule.Priority,
			rule.Language,
			rule.Segment,
			rule.MinBudget,
			rule.Location,
			rule.PoolID,
			toMillis(rule.CreatedAt),
			toMillis(rule.UpdatedAt),
		); err != nil {
			if isUniqueConstraintError(err) {
				return rollbackWith(storage.ErrConflict)
			}
			return rollbackWith(fmt.Errorf("insert routing rule: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rule replace: %w", err)
	}
	return nil
}

// GetPool loads one pool with its ordered members.
func (s *Store) GetPool(ctx context.Context, poolID string) (storage.PoolRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.PoolRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PoolRecord{}, fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return storage.PoolRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, cursor, created_at, updated_at
FROM pools
WHERE id = ?
`, poolID)
	record, err := scanPool(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PoolRecord{}, storage.ErrNotFound
		}
		return storage.PoolRecord{}, fmt.Errorf("get pool: %w", err)
	}
	members, err := s.poolMembers(ctx, poolID)
	if err != nil {
		return storage.PoolRecord{}, err
	}
	record.MemberIDs = members
	return record, nil
}

// ListPools returns every pool keyed by ID with ordered members.
func (s *Store) ListPools(ctx context.Context) (map[string]storage.PoolRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, cursor, created_at, updated_at
FROM pools
`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	pools := make(map[string]storage.PoolRecord)
	for rows.Next() {
		record, scanErr := scanPool(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan pool row: %w", scanErr)
		}
		pools[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}

	memberRows, err := s.sqlDB.QueryContext(ctx, `
SELECT pool_id, agent_id
FROM pool_members
ORDER BY pool_id ASC, position ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list pool members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var poolID string
		var agentID string
		if err := memberRows.Scan(&poolID, &agentID); err != nil {
			return nil, fmt.Errorf("scan pool member row: %w", err)
		}
		pool, ok := pools[poolID]
		if !ok {
			continue
		}
		pool.MemberIDs = append(pool.MemberIDs, agentID)
		pools[poolID] = pool
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool member rows: %w", err)
	}
	return pools, nil
}

// PutPool upserts one pool and replaces its member order atomically.
func (s *Store) PutPool(ctx context.Context, pool storage.PoolRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	pool.ID = strings.TrimSpace(pool.ID)
	if pool.ID == "" {
		return fmt.Errorf("pool id is required")
	}
	if pool.CreatedAt.IsZero() || pool.UpdatedAt.IsZero() {
		return fmt.Errorf("pool timestamps are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pool write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback pool write: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO pools (id, name, cursor, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	cursor = excluded.cursor,
	updated_at = excluded.updated_at
`,
		pool.ID,
		pool.Name,
		pool.Cursor,
		toMillis(pool.CreatedAt),
		toMillis(pool.UpdatedAt),
	); err != nil {
		return rollbackWith(fmt.Errorf("upsert pool: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pool_members WHERE pool_id = ?`, pool.ID); err != nil {
		return rollbackWith(fmt.Errorf("clear pool members: %w", err))
	}
	for position, agentID := range pool.MemberIDs {
		agentID = strings.TrimSpace(agentID)
		if agentID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pool_members (pool_id, agent_id, position) VALUES (?, ?, ?)
`, pool.ID, agentID, position); err != nil {
			if isForeignKeyConstraintError(err) {
				return rollbackWith(storage.ErrNotFound)
			}
			return rollbackWith(fmt.Errorf("insert pool member: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pool write: %w", err)
	}
	return nil
}

// SetPoolCursor persists the rotation cursor after a fallback assignment.
func (s *Store) SetPoolCursor(ctx context.Context, poolID string, cursor int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return storage.ErrNotFound
	}
	if cursor < 0 {
		return fmt.Errorf("cursor must be non-negative")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE pools
SET cursor = ?, updated_at = ?
WHERE id = ?
`, cursor, toMillis(time.Now().UTC()), poolID)
	if err != nil {
		return fmt.Errorf("set pool cursor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set pool cursor rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) poolMembers(ctx context.Context, poolID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT agent_id
FROM pool_members
WHERE pool_id = ?
ORDER BY position ASC
`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list pool members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, fmt.Errorf("scan pool member row: %w", err)
		}
		members = append(members, agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool member rows: %w", err)
	}
	return members, nil
}

type scanner func(dest ...any) error

func normalizeLeadRecord(record storage.LeadRecord) (storage.LeadRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.Language = strings.TrimSpace(record.Language)
	record.Segment = strings.TrimSpace(record.Segment)
	record.Location = strings.TrimSpace(record.Location)
	record.Status = strings.TrimSpace(record.Status)
	record.OwnerAgentID = strings.TrimSpace(record.OwnerAgentID)
	record.FallbackPoolID = strings.TrimSpace(record.FallbackPoolID)
	if record.ID == "" {
		return storage.LeadRecord{}, fmt.Errorf("lead id is required")
	}
	if record.Language == "" {
		return storage.LeadRecord{}, fmt.Errorf("lead language is required")
	}
	if record.Segment == "" {
		return storage.LeadRecord{}, fmt.Errorf("lead segment is required")
	}
	if record.Status == "" {
		return storage.LeadRecord{}, fmt.Errorf("lead status is required")
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return storage.LeadRecord{}, fmt.Errorf("lead timestamps are required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	if record.ClaimWindowExpiresAt != nil {
		expiresAt := record.ClaimWindowExpiresAt.UTC()
		record.ClaimWindowExpiresAt = &expiresAt
	}
	return record, nil
}

func scanLead(scan scanner) (storage.LeadRecord, error) {
	var record storage.LeadRecord
	var owner sql.NullString
	var expiresAt sql.NullInt64
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.Language,
		&record.Segment,
		&record.Budget,
		&record.Location,
		&record.Status,
		&owner,
		&record.FallbackPoolID,
		&expiresAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.LeadRecord{}, err
	}
	if owner.Valid {
		record.OwnerAgentID = owner.String
	}
	if expiresAt.Valid {
		value := fromMillis(expiresAt.Int64)
		record.ClaimWindowExpiresAt = &value
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func scanAgent(scan scanner) (storage.AgentRecord, error) {
	var record storage.AgentRecord
	var languagesJSON string
	var paused int
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.Name,
		&languagesJSON,
		&paused,
		&record.Capacity,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.AgentRecord{}, err
	}
	if languagesJSON != "" {
		if err := json.Unmarshal([]byte(languagesJSON), &record.Languages); err != nil {
			return storage.AgentRecord{}, fmt.Errorf("decode agent languages: %w", err)
		}
	}
	record.Paused = paused != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func scanPool(scan scanner) (storage.PoolRecord, error) {
	var record storage.PoolRecord
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.Name,
		&record.Cursor,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.PoolRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func collectLeads(rows *sql.Rows) ([]storage.LeadRecord, error) {
	var leads []storage.LeadRecord
	for rows.Next() {
		record, err := scanLead(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		leads = append(leads, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead rows: %w", err)
	}
	return leads, nil
}

func idPlaceholders(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for index, value := range ids {
		placeholders[index] = "?"
		args[index] = value
	}
	return strings.Join(placeholders, ", "), args
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}

func isForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "foreign key constraint failed")
}
