// Package httpapi exposes the lead engine operations as a JSON API.
//
// The surrounding application (admin CMS, agent portal) is only ever a
// caller of these operations, never a participant in the claim state
// machine. Losing a claim race is an ordinary outcome here, mapped to a
// distinct status code so the UI can say "a teammate got this one"
// instead of showing a generic failure.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	leadsdomain "github.com/habitar/leadengine/internal/services/leads/domain"
	notifdomain "github.com/habitar/leadengine/internal/services/notifications/domain"
)

// Handler serves the lead engine HTTP surface.
type Handler struct {
	engine *leadsdomain.Service
	inbox  *notifdomain.Service
}

// New constructs the API handler over the engine and inbox services.
func New(engine *leadsdomain.Service, inbox *notifdomain.Service) *Handler {
	return &Handler{engine: engine, inbox: inbox}
}

// Register wires engine routes into the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if mux == nil || h == nil {
		return
	}
	mux.HandleFunc("POST /v1/leads", h.handleSubmitLead)
	mux.HandleFunc("GET /v1/leads/{id}", h.handleGetLead)
	mux.HandleFunc("POST /v1/leads/{id}/claim", h.handleClaimLead)
	mux.HandleFunc("GET /v1/agents/{id}/claimable", h.handleListClaimable)
	mux.HandleFunc("GET /v1/agents/{id}/notifications", h.handleListNotifications)
	mux.HandleFunc("POST /v1/agents/{id}/notifications/{nid}/read", h.handleMarkNotificationRead)
	mux.HandleFunc("PUT /v1/agents/{id}", h.handleUpsertAgent)
	mux.HandleFunc("PUT /v1/routing/rules", h.handleReplaceRules)
	mux.HandleFunc("PUT /v1/routing/pools/{id}", h.handleConfigurePool)
}

type leadView struct {
	ID                   string `json:"id"`
	Language             string `json:"language"`
	Segment              string `json:"segment"`
	Budget               int64  `json:"budget,omitempty"`
	Location             string `json:"location,omitempty"`
	Status               string `json:"status"`
	OwnerAgentID         string `json:"owner_agent_id,omitempty"`
	ClaimWindowExpiresAt string `json:"claim_window_expires_at,omitempty"`
	CreatedAt            string `json:"created_at"`
}

func toLeadView(lead leadsdomain.Lead) leadView {
	view := leadView{
		ID:           lead.ID,
		Language:     lead.Language,
		Segment:      string(lead.Segment),
		Budget:       lead.Budget,
		Location:     lead.Location,
		Status:       string(lead.Status),
		OwnerAgentID: lead.OwnerAgentID,
		CreatedAt:    lead.CreatedAt.UTC().Format(time.RFC3339),
	}
	if lead.ClaimWindowExpiresAt != nil {
		view.ClaimWindowExpiresAt = lead.ClaimWindowExpiresAt.UTC().Format(time.RFC3339)
	}
	return view
}

type submitLeadRequest struct {
	Language string `json:"language"`
	Segment  string `json:"segment"`
	Budget   int64  `json:"budget"`
	Location string `json:"location"`
}

func (h *Handler) handleSubmitLead(w http.ResponseWriter, r *http.Request) {
	var request submitLeadRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	lead, err := h.engine.SubmitLead(r.Context(), leadsdomain.SubmitLeadInput{
		Language: request.Language,
		Segment:  leadsdomain.Segment(request.Segment),
		Budget:   request.Budget,
		Location: request.Location,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeadView(lead))
}

func (h *Handler) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.engine.GetLead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadView(lead))
}

type claimLeadRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *Handler) handleClaimLead(w http.ResponseWriter, r *http.Request) {
	var request claimLeadRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	lead, err := h.engine.Claim(r.Context(), r.PathValue("id"), request.AgentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadView(lead))
}

func (h *Handler) handleListClaimable(w http.ResponseWriter, r *http.Request) {
	leads, err := h.engine.ListClaimable(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]leadView, 0, len(leads))
	for _, lead := range leads {
		views = append(views, toLeadView(lead))
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": views})
}

type notificationView struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	LeadID    string          `json:"lead_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
	Read      bool            `json:"read"`
}

func toNotificationView(notification notifdomain.Notification) notificationView {
	view := notificationView{
		ID:        notification.ID,
		Kind:      string(notification.Kind),
		LeadID:    notification.LeadID,
		CreatedAt: notification.CreatedAt.UTC().Format(time.RFC3339),
		Read:      notification.Read(),
	}
	if notification.PayloadJSON != "" {
		view.Payload = json.RawMessage(notification.PayloadJSON)
	}
	return view
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "page_size must be a positive integer", Code: "invalid_request"})
			return
		}
		pageSize = parsed
	}
	page, err := h.inbox.ListInbox(r.Context(), notifdomain.ListInboxInput{
		RecipientAgentID: agentID,
		PageSize:         pageSize,
		PageToken:        r.URL.Query().Get("page_token"),
	})
	if err != nil {
		writeNotificationError(w, err)
		return
	}
	unread, err := h.inbox.CountUnread(r.Context(), agentID)
	if err != nil {
		writeNotificationError(w, err)
		return
	}
	views := make([]notificationView, 0, len(page.Notifications))
	for _, notification := range page.Notifications {
		views = append(views, toNotificationView(notification))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications":   views,
		"unread_count":    unread,
		"next_page_token": page.NextPageToken,
	})
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notification, err := h.inbox.MarkRead(r.Context(), r.PathValue("id"), r.PathValue("nid"))
	if err != nil {
		writeNotificationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationView(notification))
}

type upsertAgentRequest struct {
	Name      string   `json:"name"`
	Languages []string `json:"languages"`
	Paused    bool     `json:"paused"`
	Capacity  int      `json:"capacity"`
}

func (h *Handler) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	var request upsertAgentRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	agent, err := h.engine.UpsertAgent(r.Context(), leadsdomain.Agent{
		ID:        r.PathValue("id"),
		Name:      request.Name,
		Languages: request.Languages,
		Paused:    request.Paused,
		Capacity:  request.Capacity,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        agent.ID,
		"name":      agent.Name,
		"languages": agent.Languages,
		"paused":    agent.Paused,
		"capacity":  agent.Capacity,
	})
}

type ruleRequest struct {
	ID        string `json:"id"`
	Priority  int    `json:"priority"`
	Language  string `json:"language"`
	Segment   string `json:"segment"`
	MinBudget int64  `json:"min_budget"`
	Location  string `json:"location"`
	PoolID    string `json:"pool_id"`
}

type replaceRulesRequest struct {
	Rules []ruleRequest `json:"rules"`
}

func (h *Handler) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	var request replaceRulesRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	rules := make([]leadsdomain.RoutingRule, 0, len(request.Rules))
	for _, rule := range request.Rules {
		rules = append(rules, leadsdomain.RoutingRule{
			ID:        rule.ID,
			Priority:  rule.Priority,
			Language:  rule.Language,
			Segment:   leadsdomain.Segment(rule.Segment),
			MinBudget: rule.MinBudget,
			Location:  rule.Location,
			PoolID:    rule.PoolID,
		})
	}
	if err := h.engine.ReplaceRoutingRules(r.Context(), rules); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": len(rules)})
}

type configurePoolRequest struct {
	Name     string   `json:"name"`
	AgentIDs []string `json:"agent_ids"`
}

func (h *Handler) handleConfigurePool(w http.ResponseWriter, r *http.Request) {
	var request configurePoolRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	pool, err := h.engine.ConfigureRoundRobinPool(r.Context(), r.PathValue("id"), request.Name, request.AgentIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        pool.ID,
		"name":      pool.Name,
		"agent_ids": pool.MemberIDs,
		"cursor":    pool.Cursor,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, leadsdomain.ErrClaimConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "claim_conflict"})
	case errors.Is(err, leadsdomain.ErrWindowExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error(), Code: "window_expired"})
	case errors.Is(err, leadsdomain.ErrIneligibleAgent):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "ineligible_agent"})
	case errors.Is(err, leadsdomain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, leadsdomain.ErrWindowNotOpen):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "window_not_open"})
	case errors.Is(err, leadsdomain.ErrLanguageRequired),
		errors.Is(err, leadsdomain.ErrSegmentRequired),
		errors.Is(err, leadsdomain.ErrDefaultPoolRequired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_request"})
	default:
		log.Printf("lead engine api error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func writeNotificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notifdomain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, notifdomain.ErrRecipientAgentIDRequired),
		errors.Is(err, notifdomain.ErrNotificationIDRequired),
		errors.Is(err, notifdomain.ErrInvalidPageToken):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_request"})
	default:
		log.Printf("notifications api error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "invalid_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
