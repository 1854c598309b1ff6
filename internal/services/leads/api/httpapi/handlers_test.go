package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	leadsdomain "github.com/habitar/leadengine/internal/services/leads/domain"
	notifdomain "github.com/habitar/leadengine/internal/services/notifications/domain"
)

func TestSubmitLead_CreatedWithOpenWindow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPost, "/v1/leads", `{"language":"es","segment":"hot","budget":250000}`)

	if response.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", response.Code, response.Body.String())
	}
	var body struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Language string `json:"language"`
	}
	decodeBody(t, response, &body)
	if body.Status != "window_open" {
		t.Fatalf("status = %q, want window_open", body.Status)
	}
	if body.Language != "es" {
		t.Fatalf("language = %q, want es", body.Language)
	}
	if body.ID == "" {
		t.Fatal("missing lead id")
	}
}

func TestSubmitLead_MissingLanguageBadRequest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPost, "/v1/leads", `{"segment":"hot"}`)

	if response.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", response.Code)
	}
	if code := errorCode(t, response); code != "invalid_request" {
		t.Fatalf("error code = %q, want invalid_request", code)
	}
}

func TestClaimLead_WinnerThenConflict(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	leadID := env.submitLead(t)

	win := env.do(t, http.MethodPost, "/v1/leads/"+leadID+"/claim", `{"agent_id":"agent-1"}`)
	if win.Code != http.StatusOK {
		t.Fatalf("winning claim status = %d, want 200 (body: %s)", win.Code, win.Body.String())
	}
	var claimed struct {
		Status       string `json:"status"`
		OwnerAgentID string `json:"owner_agent_id"`
	}
	decodeBody(t, win, &claimed)
	if claimed.Status != "claimed" || claimed.OwnerAgentID != "agent-1" {
		t.Fatalf("claim body = %+v", claimed)
	}

	lose := env.do(t, http.MethodPost, "/v1/leads/"+leadID+"/claim", `{"agent_id":"agent-2"}`)
	if lose.Code != http.StatusConflict {
		t.Fatalf("losing claim status = %d, want 409", lose.Code)
	}
	if code := errorCode(t, lose); code != "claim_conflict" {
		t.Fatalf("error code = %q, want claim_conflict", code)
	}
}

func TestClaimLead_IneligibleAgentForbidden(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	leadID := env.submitLead(t)

	response := env.do(t, http.MethodPost, "/v1/leads/"+leadID+"/claim", `{"agent_id":"agent-outsider"}`)
	if response.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", response.Code)
	}
	if code := errorCode(t, response); code != "ineligible_agent" {
		t.Fatalf("error code = %q, want ineligible_agent", code)
	}
}

func TestClaimLead_ExpiredWindowGone(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	leadID := env.submitLead(t)
	env.advanceClock(time.Hour)

	response := env.do(t, http.MethodPost, "/v1/leads/"+leadID+"/claim", `{"agent_id":"agent-1"}`)
	if response.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", response.Code)
	}
	if code := errorCode(t, response); code != "window_expired" {
		t.Fatalf("error code = %q, want window_expired", code)
	}
}

func TestClaimLead_UnknownLeadNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPost, "/v1/leads/missing/claim", `{"agent_id":"agent-1"}`)
	if response.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", response.Code)
	}
}

func TestListClaimable_ReturnsOpenLeads(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	leadID := env.submitLead(t)

	response := env.do(t, http.MethodGet, "/v1/agents/agent-1/claimable", "")
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.Code)
	}
	var body struct {
		Leads []struct {
			ID string `json:"id"`
		} `json:"leads"`
	}
	decodeBody(t, response, &body)
	if len(body.Leads) != 1 || body.Leads[0].ID != leadID {
		t.Fatalf("claimable leads = %+v, want [%s]", body.Leads, leadID)
	}
}

func TestNotificationsFlow_ListThenMarkRead(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.submitLead(t)

	list := env.do(t, http.MethodGet, "/v1/agents/agent-1/notifications", "")
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", list.Code)
	}
	var inbox struct {
		Notifications []struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
			Read bool   `json:"read"`
		} `json:"notifications"`
		UnreadCount int `json:"unread_count"`
	}
	decodeBody(t, list, &inbox)
	if len(inbox.Notifications) != 1 || inbox.Notifications[0].Kind != "lead.claimable" {
		t.Fatalf("inbox = %+v, want one lead.claimable", inbox.Notifications)
	}
	if inbox.UnreadCount != 1 {
		t.Fatalf("unread count = %d, want 1", inbox.UnreadCount)
	}

	notificationID := inbox.Notifications[0].ID
	mark := env.do(t, http.MethodPost, "/v1/agents/agent-1/notifications/"+notificationID+"/read", "")
	if mark.Code != http.StatusOK {
		t.Fatalf("mark read status = %d, want 200", mark.Code)
	}
	var marked struct {
		Read bool `json:"read"`
	}
	decodeBody(t, mark, &marked)
	if !marked.Read {
		t.Fatal("notification not marked read")
	}

	// Marking again is a no-op, not an error.
	again := env.do(t, http.MethodPost, "/v1/agents/agent-1/notifications/"+notificationID+"/read", "")
	if again.Code != http.StatusOK {
		t.Fatalf("second mark read status = %d, want 200", again.Code)
	}
}

func TestListNotifications_PageSizeLimitsResults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.submitLead(t)
	env.submitLead(t)

	list := env.do(t, http.MethodGet, "/v1/agents/agent-1/notifications?page_size=1", "")
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", list.Code)
	}
	var inbox struct {
		Notifications []struct {
			ID string `json:"id"`
		} `json:"notifications"`
		UnreadCount int `json:"unread_count"`
	}
	decodeBody(t, list, &inbox)
	if len(inbox.Notifications) != 1 {
		t.Fatalf("page of 1 returned %d notifications", len(inbox.Notifications))
	}
	if inbox.UnreadCount != 2 {
		t.Fatalf("unread count = %d, want 2", inbox.UnreadCount)
	}
}

func TestListNotifications_RejectsBadPageSize(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, raw := range []string{"0", "-3", "huge"} {
		response := env.do(t, http.MethodGet, "/v1/agents/agent-1/notifications?page_size="+raw, "")
		if response.Code != http.StatusBadRequest {
			t.Fatalf("page_size=%s status = %d, want 400", raw, response.Code)
		}
		if code := errorCode(t, response); code != "invalid_request" {
			t.Fatalf("page_size=%s error code = %q, want invalid_request", raw, code)
		}
	}
}

func TestMarkNotificationRead_UnknownNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPost, "/v1/agents/agent-1/notifications/missing/read", "")
	if response.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", response.Code)
	}
}

func TestReplaceRules_AcceptsRuleSet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPut, "/v1/routing/rules", `{
		"rules": [
			{"priority": 1, "language": "es", "segment": "hot", "pool_id": "pool-hot"},
			{"priority": 2, "min_budget": 100000, "pool_id": "pool-premium"}
		]
	}`)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", response.Code, response.Body.String())
	}
}

func TestConfigurePool_UpsertsMembership(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPut, "/v1/routing/pools/pool-coastal", `{
		"name": "Coastal",
		"agent_ids": ["agent-1", "agent-2"]
	}`)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", response.Code, response.Body.String())
	}
	var body struct {
		ID       string   `json:"id"`
		AgentIDs []string `json:"agent_ids"`
	}
	decodeBody(t, response, &body)
	if body.ID != "pool-coastal" || len(body.AgentIDs) != 2 {
		t.Fatalf("pool body = %+v", body)
	}
}

func TestUpsertAgent_ReturnsNormalizedAgent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPut, "/v1/agents/agent-9", `{
		"name": "Ana",
		"languages": ["ES", "pt"],
		"capacity": 3
	}`)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", response.Code, response.Body.String())
	}
	var body struct {
		ID        string   `json:"id"`
		Languages []string `json:"languages"`
	}
	decodeBody(t, response, &body)
	if body.ID != "agent-9" {
		t.Fatalf("agent id = %q, want agent-9", body.ID)
	}
	if len(body.Languages) != 2 || body.Languages[0] != "es" {
		t.Fatalf("languages = %v, want normalized lowercase", body.Languages)
	}
}

func TestDecodeJSON_RejectsMalformedBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	response := env.do(t, http.MethodPost, "/v1/leads", `{"language":`)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", response.Code)
	}
}

type testEnv struct {
	mux        *http.ServeMux
	engine     *leadsdomain.Service
	dispatcher *syncNotifier
	clock      *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	leadStore := newMemoryLeadStore()
	leadStore.agents["agent-1"] = leadsdomain.Agent{ID: "agent-1"}
	leadStore.agents["agent-2"] = leadsdomain.Agent{ID: "agent-2"}
	leadStore.pools["default"] = leadsdomain.Pool{ID: "default", MemberIDs: []string{"agent-1", "agent-2"}}

	inboxStore := newMemoryInboxStore()
	inbox := notifdomain.NewService(inboxStore, clock.Now)
	notifier := &syncNotifier{inbox: inbox}

	engine := leadsdomain.NewService(leadStore, notifier, leadsdomain.Config{
		WindowDuration: 15 * time.Minute,
		DefaultPoolID:  "default",
	}, clock.Now, nil)

	mux := http.NewServeMux()
	New(engine, inbox).Register(mux)

	return &testEnv{mux: mux, engine: engine, dispatcher: notifier, clock: clock}
}

func (e *testEnv) do(t *testing.T, method string, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	e.mux.ServeHTTP(recorder, request)
	return recorder
}

func (e *testEnv) submitLead(t *testing.T) string {
	t.Helper()
	response := e.do(t, http.MethodPost, "/v1/leads", `{"language":"es","segment":"hot"}`)
	if response.Code != http.StatusCreated {
		t.Fatalf("submit lead status = %d (body: %s)", response.Code, response.Body.String())
	}
	var body struct {
		ID string `json:"id"`
	}
	decodeBody(t, response, &body)
	return body.ID
}

func (e *testEnv) advanceClock(delta time.Duration) {
	e.clock.advance(delta)
}

func decodeBody(t *testing.T, response *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(response.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response body %q: %v", response.Body.String(), err)
	}
}

func errorCode(t *testing.T, response *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, response, &body)
	return body.Code
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

// syncNotifier delivers inbox notifications inline so tests can assert on
// them without waiting on goroutines.
type syncNotifier struct {
	inbox *notifdomain.Service
}

func (n *syncNotifier) LeadClaimable(ctx context.Context, lead leadsdomain.Lead, eligibleAgentIDs []string) {
	for _, agentID := range eligibleAgentIDs {
		_, _ = n.inbox.Publish(ctx, notifdomain.PublishInput{
			RecipientAgentID: agentID,
			Kind:             notifdomain.KindClaimable,
			LeadID:           lead.ID,
		})
	}
}

func (n *syncNotifier) LeadClaimed(ctx context.Context, lead leadsdomain.Lead, winnerAgentID string, eligibleAgentIDs []string) {
	_, _ = n.inbox.Publish(ctx, notifdomain.PublishInput{
		RecipientAgentID: winnerAgentID,
		Kind:             notifdomain.KindAssignedToYou,
		LeadID:           lead.ID,
	})
}

func (n *syncNotifier) LeadExpired(ctx context.Context, lead leadsdomain.Lead, fallbackAgentID string, eligibleAgentIDs []string) {
	_, _ = n.inbox.Publish(ctx, notifdomain.PublishInput{
		RecipientAgentID: fallbackAgentID,
		Kind:             notifdomain.KindAssignedToYou,
		LeadID:           lead.ID,
	})
}

type memoryLeadStore struct {
	mu       sync.Mutex
	leads    map[string]leadsdomain.Lead
	eligible map[string][]string
	agents   map[string]leadsdomain.Agent
	owned    map[string]int
	rules    []leadsdomain.RoutingRule
	pools    map[string]leadsdomain.Pool
}

func newMemoryLeadStore() *memoryLeadStore {
	return &memoryLeadStore{
		leads:    make(map[string]leadsdomain.Lead),
		eligible: make(map[string][]string),
		agents:   make(map[string]leadsdomain.Agent),
		owned:    make(map[string]int),
		pools:    make(map[string]leadsdomain.Pool),
	}
}

func (m *memoryLeadStore) CreateLead(_ context.Context, lead leadsdomain.Lead, eligibleAgentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[lead.ID] = lead
	m.eligible[lead.ID] = append([]string(nil), eligibleAgentIDs...)
	return nil
}

func (m *memoryLeadStore) GetLead(_ context.Context, leadID string) (leadsdomain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return leadsdomain.Lead{}, leadsdomain.ErrNotFound
	}
	return lead, nil
}

func (m *memoryLeadStore) EligibleAgentIDs(_ context.Context, leadID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.eligible[leadID]...), nil
}

func (m *memoryLeadStore) ListClaimableLeads(_ context.Context, agentID string, now time.Time) ([]leadsdomain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []leadsdomain.Lead
	for leadID, lead := range m.leads {
		if !lead.WindowOpenAt(now) {
			continue
		}
		for _, eligible := range m.eligible[leadID] {
			if eligible == agentID {
				out = append(out, lead)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryLeadStore) ListExpiredOpenLeads(_ context.Context, now time.Time, limit int) ([]leadsdomain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []leadsdomain.Lead
	for _, lead := range m.leads {
		if lead.Status != leadsdomain.LeadStatusWindowOpen || lead.ClaimWindowExpiresAt == nil {
			continue
		}
		if now.Before(*lead.ClaimWindowExpiresAt) {
			continue
		}
		out = append(out, lead)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryLeadStore) AssignOwner(_ context.Context, leadID string, agentID string, status leadsdomain.LeadStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return false, leadsdomain.ErrNotFound
	}
	if lead.Status != leadsdomain.LeadStatusWindowOpen || lead.OwnerAgentID != "" {
		return false, nil
	}
	lead.Status = status
	lead.OwnerAgentID = agentID
	lead.UpdatedAt = at
	m.leads[leadID] = lead
	m.owned[agentID]++
	return true, nil
}

func (m *memoryLeadStore) UpsertAgent(_ context.Context, agent leadsdomain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.ID] = agent
	return nil
}

func (m *memoryLeadStore) GetAgent(_ context.Context, agentID string) (leadsdomain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return leadsdomain.Agent{}, leadsdomain.ErrNotFound
	}
	return agent, nil
}

func (m *memoryLeadStore) AgentsByID(_ context.Context, agentIDs []string) (map[string]leadsdomain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]leadsdomain.Agent, len(agentIDs))
	for _, agentID := range agentIDs {
		if agent, ok := m.agents[agentID]; ok {
			out[agentID] = agent
		}
	}
	return out, nil
}

func (m *memoryLeadStore) CountOwnedLeads(_ context.Context, agentIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(agentIDs))
	for _, agentID := range agentIDs {
		out[agentID] = m.owned[agentID]
	}
	return out, nil
}

func (m *memoryLeadStore) ListRules(_ context.Context) ([]leadsdomain.RoutingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]leadsdomain.RoutingRule(nil), m.rules...), nil
}

func (m *memoryLeadStore) ReplaceRules(_ context.Context, rules []leadsdomain.RoutingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]leadsdomain.RoutingRule(nil), rules...)
	return nil
}

func (m *memoryLeadStore) GetPool(_ context.Context, poolID string) (leadsdomain.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[poolID]
	if !ok {
		return leadsdomain.Pool{}, leadsdomain.ErrNotFound
	}
	return pool, nil
}

func (m *memoryLeadStore) ListPools(_ context.Context) (map[string]leadsdomain.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]leadsdomain.Pool, len(m.pools))
	for poolID, pool := range m.pools {
		out[poolID] = pool
	}
	return out, nil
}

func (m *memoryLeadStore) PutPool(_ context.Context, pool leadsdomain.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool.ID] = pool
	return nil
}

func (m *memoryLeadStore) SetPoolCursor(_ context.Context, poolID string, cursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[poolID]
	if !ok {
		return leadsdomain.ErrNotFound
	}
	pool.Cursor = cursor
	m.pools[poolID] = pool
	return nil
}

type memoryInboxStore struct {
	mu    sync.Mutex
	items map[string]map[string]notifdomain.Notification
}

func newMemoryInboxStore() *memoryInboxStore {
	return &memoryInboxStore{items: make(map[string]map[string]notifdomain.Notification)}
}

func (m *memoryInboxStore) PutNotification(_ context.Context, notification notifdomain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inbox := m.items[notification.RecipientAgentID]
	if inbox == nil {
		inbox = make(map[string]notifdomain.Notification)
		m.items[notification.RecipientAgentID] = inbox
	}
	if _, exists := inbox[notification.ID]; !exists {
		inbox[notification.ID] = notification
	}
	return nil
}

func (m *memoryInboxStore) GetNotification(_ context.Context, recipientAgentID string, notificationID string) (notifdomain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification, ok := m.items[recipientAgentID][notificationID]
	if !ok {
		return notifdomain.Notification{}, notifdomain.ErrNotFound
	}
	return notification, nil
}

func (m *memoryInboxStore) ListNotificationsByRecipient(_ context.Context, recipientAgentID string, pageSize int, _ string) (notifdomain.NotificationPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notifdomain.Notification
	for _, notification := range m.items[recipientAgentID] {
		out = append(out, notification)
	}
	if pageSize > 0 && len(out) > pageSize {
		out = out[:pageSize]
	}
	return notifdomain.NotificationPage{Notifications: out}, nil
}

func (m *memoryInboxStore) CountUnreadByRecipient(_ context.Context, recipientAgentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, notification := range m.items[recipientAgentID] {
		if !notification.Read() {
			count++
		}
	}
	return count, nil
}

func (m *memoryInboxStore) MarkNotificationRead(_ context.Context, recipientAgentID string, notificationID string, readAt time.Time) (notifdomain.Notification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification, ok := m.items[recipientAgentID][notificationID]
	if !ok {
		return notifdomain.Notification{}, false, notifdomain.ErrNotFound
	}
	if notification.ReadAt != nil {
		return notification, false, nil
	}
	notification.ReadAt = &readAt
	m.items[recipientAgentID][notificationID] = notification
	return notification, true, nil
}
