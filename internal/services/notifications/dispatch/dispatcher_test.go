package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	leadsdomain "github.com/habitar/leadengine/internal/services/leads/domain"
	"github.com/habitar/leadengine/internal/services/notifications/bus"
	"github.com/habitar/leadengine/internal/services/notifications/domain"
)

func TestLeadClaimable_DeliversToEveryEligibleAgent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	dispatcher := New(domain.NewService(store, fixedClock(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC))), nil)

	expires := time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC)
	dispatcher.LeadClaimable(context.Background(), leadsdomain.Lead{
		ID:                   "lead-1",
		Language:             "es",
		Segment:              leadsdomain.SegmentHot,
		ClaimWindowExpiresAt: &expires,
	}, []string{"agent-1", "agent-2"})
	dispatcher.Wait()

	for _, agentID := range []string{"agent-1", "agent-2"} {
		kinds := store.kindsFor(agentID)
		if len(kinds) != 1 || kinds[0] != domain.KindClaimable {
			t.Fatalf("agent %s kinds = %v, want [lead.claimable]", agentID, kinds)
		}
	}
}

func TestLeadClaimed_SplitsWinnerAndLosers(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	dispatcher := New(domain.NewService(store, fixedClock(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC))), nil)

	dispatcher.LeadClaimed(context.Background(), leadsdomain.Lead{
		ID:       "lead-1",
		Language: "es",
		Segment:  leadsdomain.SegmentHot,
	}, "agent-2", []string{"agent-1", "agent-2", "agent-3"})
	dispatcher.Wait()

	if kinds := store.kindsFor("agent-2"); len(kinds) != 1 || kinds[0] != domain.KindAssignedToYou {
		t.Fatalf("winner kinds = %v, want [lead.assigned_to_you]", kinds)
	}
	for _, loser := range []string{"agent-1", "agent-3"} {
		kinds := store.kindsFor(loser)
		if len(kinds) != 1 || kinds[0] != domain.KindClaimedByOther {
			t.Fatalf("loser %s kinds = %v, want [lead.claimed_by_other]", loser, kinds)
		}
	}
}

func TestLeadExpired_NotifiesFallbackOwnerAndWitnesses(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	dispatcher := New(domain.NewService(store, fixedClock(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC))), nil)

	dispatcher.LeadExpired(context.Background(), leadsdomain.Lead{
		ID:       "lead-1",
		Language: "pt",
		Segment:  leadsdomain.SegmentWarm,
	}, "agent-9", []string{"agent-1", "agent-2"})
	dispatcher.Wait()

	if kinds := store.kindsFor("agent-9"); len(kinds) != 1 || kinds[0] != domain.KindAssignedToYou {
		t.Fatalf("fallback owner kinds = %v, want [lead.assigned_to_you]", kinds)
	}
	for _, witness := range []string{"agent-1", "agent-2"} {
		kinds := store.kindsFor(witness)
		if len(kinds) != 1 || kinds[0] != domain.KindExpired {
			t.Fatalf("witness %s kinds = %v, want [lead.expired]", witness, kinds)
		}
	}
}

func TestDispatch_ForwardsToBusWithStableEnvelope(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	fakeBus := &captureBus{}
	dispatcher := New(domain.NewService(store, fixedClock(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC))), fakeBus)

	dispatcher.LeadClaimable(context.Background(), leadsdomain.Lead{
		ID:       "lead-1",
		Language: "es",
		Segment:  leadsdomain.SegmentHot,
	}, []string{"agent-1"})
	dispatcher.Wait()

	envelopes := fakeBus.envelopes()
	if len(envelopes) != 1 {
		t.Fatalf("bus envelopes = %d, want 1", len(envelopes))
	}
	env := envelopes[0]
	if env.Meta.Type != string(domain.KindClaimable) {
		t.Fatalf("envelope type = %q, want lead.claimable", env.Meta.Type)
	}
	if env.Meta.CorrelationID != "lead-1" {
		t.Fatalf("envelope correlation id = %q, want lead-1", env.Meta.CorrelationID)
	}
	if env.Meta.ID != domain.NotificationID("lead-1", domain.KindClaimable, "agent-1") {
		t.Fatalf("envelope id = %q, want deterministic notification id", env.Meta.ID)
	}
}

func TestDispatch_SurvivesCanceledRequestContext(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	dispatcher := New(domain.NewService(store, fixedClock(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC))), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dispatcher.LeadClaimable(ctx, leadsdomain.Lead{
		ID:       "lead-1",
		Language: "es",
		Segment:  leadsdomain.SegmentHot,
	}, []string{"agent-1"})
	dispatcher.Wait()

	if kinds := store.kindsFor("agent-1"); len(kinds) != 1 {
		t.Fatalf("delivery dropped after caller canceled: kinds = %v", kinds)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type captureBus struct {
	mu   sync.Mutex
	sent []bus.Envelope
}

func (b *captureBus) Publish(_ context.Context, _ string, env bus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, env)
	return nil
}

func (b *captureBus) envelopes() []bus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.Envelope(nil), b.sent...)
}

type memoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]domain.Notification
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: make(map[string]map[string]domain.Notification)}
}

func (m *memoryStore) kindsFor(recipientAgentID string) []domain.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []domain.Kind
	for _, notification := range m.items[recipientAgentID] {
		kinds = append(kinds, notification.Kind)
	}
	return kinds
}

func (m *memoryStore) PutNotification(_ context.Context, notification domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inbox := m.items[notification.RecipientAgentID]
	if inbox == nil {
		inbox = make(map[string]domain.Notification)
		m.items[notification.RecipientAgentID] = inbox
	}
	if _, exists := inbox[notification.ID]; !exists {
		inbox[notification.ID] = notification
	}
	return nil
}

func (m *memoryStore) GetNotification(_ context.Context, recipientAgentID string, notificationID string) (domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification, ok := m.items[recipientAgentID][notificationID]
	if !ok {
		return domain.Notification{}, domain.ErrNotFound
	}
	return notification, nil
}

func (m *memoryStore) ListNotificationsByRecipient(_ context.Context, recipientAgentID string, _ int, _ string) (domain.NotificationPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, notification := range m.items[recipientAgentID] {
		out = append(out, notification)
	}
	return domain.NotificationPage{Notifications: out}, nil
}

func (m *memoryStore) CountUnreadByRecipient(_ context.Context, recipientAgentID string) (int, error) {
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

func (m *memoryStore) MarkNotificationRead(_ context.Context, recipientAgentID string, notificationID string, readAt time.Time) (domain.Notification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification, ok := m.items[recipientAgentID][notificationID]
	if !ok {
		return domain.Notification{}, false, domain.ErrNotFound
	}
	if notification.ReadAt != nil {
		return notification, false, nil
	}
	notification.ReadAt = &readAt
	m.items[recipientAgentID][notificationID] = notification
	return notification, true, nil
}
