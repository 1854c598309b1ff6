// Package dispatch fans lead engine events out to agent inboxes and the
// optional event bus.
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	leadsdomain "github.com/habitar/leadengine/internal/services/leads/domain"
	"github.com/habitar/leadengine/internal/services/notifications/bus"
	"github.com/habitar/leadengine/internal/services/notifications/domain"
)

// BusPublisher pushes envelopes to the live event bus.
type BusPublisher interface {
	Publish(ctx context.Context, routingKey string, env bus.Envelope) error
}

// Dispatcher implements the lead engine's notification contract.
//
// Fan-out runs asynchronously with respect to the claim state transition:
// the transition is already durable when a dispatch method is called, so a
// crash mid-dispatch loses at most a notification, never ownership. Inbox
// writes are idempotent (deterministic IDs) and bus delivery is
// at-least-once, so retried events collapse downstream.
type Dispatcher struct {
	inbox *domain.Service
	bus   BusPublisher
	wg    sync.WaitGroup
}

// New constructs a dispatcher over the inbox service and an optional bus.
func New(inbox *domain.Service, busPublisher BusPublisher) *Dispatcher {
	return &Dispatcher{inbox: inbox, bus: busPublisher}
}

// Wait blocks until in-flight dispatches finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

type leadPayload struct {
	LeadID       string `json:"lead_id"`
	Language     string `json:"language"`
	Segment      string `json:"segment"`
	OwnerAgentID string `json:"owner_agent_id,omitempty"`
	ExpiresAt    string `json:"claim_window_expires_at,omitempty"`
}

// LeadClaimable notifies every eligible agent that a lead is open to claim.
func (d *Dispatcher) LeadClaimable(ctx context.Context, lead leadsdomain.Lead, eligibleAgentIDs []string) {
	payload := leadPayload{
		LeadID:   lead.ID,
		Language: lead.Language,
		Segment:  string(lead.Segment),
	}
	if lead.ClaimWindowExpiresAt != nil {
		payload.ExpiresAt = lead.ClaimWindowExpiresAt.UTC().Format(time.RFC3339)
	}
	d.fanOut(ctx, lead.ID, domain.KindClaimable, eligibleAgentIDs, payload)
}

// LeadClaimed notifies the winner and tells the other eligible agents a
// teammate got there first.
func (d *Dispatcher) LeadClaimed(ctx context.Context, lead leadsdomain.Lead, winnerAgentID string, eligibleAgentIDs []string) {
	payload := leadPayload{
		LeadID:       lead.ID,
		Language:     lead.Language,
		Segment:      string(lead.Segment),
		OwnerAgentID: winnerAgentID,
	}
	d.fanOut(ctx, lead.ID, domain.KindAssignedToYou, []string{winnerAgentID}, payload)

	losers := make([]string, 0, len(eligibleAgentIDs))
	for _, agentID := range eligibleAgentIDs {
		if agentID != winnerAgentID {
			losers = append(losers, agentID)
		}
	}
	d.fanOut(ctx, lead.ID, domain.KindClaimedByOther, losers, payload)
}

// LeadExpired notifies the fallback owner and the previously eligible set.
func (d *Dispatcher) LeadExpired(ctx context.Context, lead leadsdomain.Lead, fallbackAgentID string, eligibleAgentIDs []string) {
	payload := leadPayload{
		LeadID:       lead.ID,
		Language:     lead.Language,
		Segment:      string(lead.Segment),
		OwnerAgentID: fallbackAgentID,
	}
	d.fanOut(ctx, lead.ID, domain.KindAssignedToYou, []string{fallbackAgentID}, payload)

	witnesses := make([]string, 0, len(eligibleAgentIDs))
	for _, agentID := range eligibleAgentIDs {
		if agentID != fallbackAgentID {
			witnesses = append(witnesses, agentID)
		}
	}
	d.fanOut(ctx, lead.ID, domain.KindExpired, witnesses, payload)
}

func (d *Dispatcher) fanOut(ctx context.Context, leadID string, kind domain.Kind, agentIDs []string, payload leadPayload) {
	if d == nil || len(agentIDs) == 0 {
		return
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("lead %s: encode %s payload: %v", leadID, kind, err)
		return
	}

	// Detach from the request context: the caller's transition already
	// committed and must not be able to cancel the fan-out.
	dispatchCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, agentID := range agentIDs {
			d.deliver(dispatchCtx, leadID, kind, agentID, payloadJSON)
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, leadID string, kind domain.Kind, agentID string, payloadJSON []byte) {
	notification, err := d.inbox.Publish(ctx, domain.PublishInput{
		RecipientAgentID: agentID,
		Kind:             kind,
		LeadID:           leadID,
		PayloadJSON:      string(payloadJSON),
	})
	if err != nil {
		log.Printf("lead %s: publish %s to agent %s: %v", leadID, kind, agentID, err)
		return
	}
	if d.bus == nil {
		return
	}
	env := bus.Envelope{
		Meta: bus.Meta{
			ID:            notification.ID,
			Type:          string(kind),
			Time:          notification.CreatedAt,
			CorrelationID: leadID,
		},
		Data: json.RawMessage(payloadJSON),
	}
	if err := d.bus.Publish(ctx, string(kind), env); err != nil {
		log.Printf("lead %s: bus publish %s to agent %s: %v", leadID, kind, agentID, err)
	}
}
