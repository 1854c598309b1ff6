package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a notification record was not found.
	ErrNotFound = errors.New("notification not found")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("notification store is not configured")
	// ErrRecipientAgentIDRequired indicates recipient identity is required.
	ErrRecipientAgentIDRequired = errors.New("recipient agent id is required")
	// ErrLeadIDRequired indicates a target lead is required.
	ErrLeadIDRequired = errors.New("notification lead id is required")
	// ErrInvalidKind indicates an unknown notification event kind.
	ErrInvalidKind = errors.New("invalid notification kind")
	// ErrNotificationIDRequired indicates notification ID is required.
	ErrNotificationIDRequired = errors.New("notification id is required")
	// ErrInvalidPageToken indicates a page token that matches no inbox item.
	ErrInvalidPageToken = errors.New("invalid page token")
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// notificationNamespace seeds deterministic notification IDs so the same
// (lead, kind, agent) tuple always produces the same ID. Redelivered events
// collapse onto one inbox row instead of duplicating.
var notificationNamespace = uuid.MustParse("7b9a4f8c-30d1-4f6e-9b0e-6f3f8f1c2a55")

// NotificationID derives the stable identifier for one (lead, kind, agent) event.
func NotificationID(leadID string, kind Kind, recipientAgentID string) string {
	key := leadID + "|" + string(kind) + "|" + recipientAgentID
	return uuid.NewSHA1(notificationNamespace, []byte(key)).String()
}

// Notification captures one agent-targeted notification item.
type Notification struct {
	ID               string
	RecipientAgentID string
	Kind             Kind
	LeadID           string
	PayloadJSON      string
	CreatedAt        time.Time
	ReadAt           *time.Time
}

// Read reports whether the owning agent already acknowledged the item.
func (n Notification) Read() bool { return n.ReadAt != nil }

// NotificationPage is a paged recipient inbox view.
type NotificationPage struct {
	Notifications []Notification
	NextPageToken string
}

// PublishInput describes one engine event targeted at one agent.
type PublishInput struct {
	RecipientAgentID string
	Kind             Kind
	LeadID           string
	PayloadJSON      string
}

// ListInboxInput configures recipient inbox listing.
type ListInboxInput struct {
	RecipientAgentID string
	PageSize         int
	PageToken        string
}

// Store is the domain persistence boundary for notification lifecycle behavior.
type Store interface {
	PutNotification(ctx context.Context, notification Notification) error
	GetNotification(ctx context.Context, recipientAgentID string, notificationID string) (Notification, error)
	ListNotificationsByRecipient(ctx context.Context, recipientAgentID string, pageSize int, pageToken string) (NotificationPage, error)
	CountUnreadByRecipient(ctx context.Context, recipientAgentID string) (int, error)
	MarkNotificationRead(ctx context.Context, recipientAgentID string, notificationID string, readAt time.Time) (Notification, bool, error)
}

// Service orchestrates agent inbox lifecycle behavior.
type Service struct {
	store Store
	clock func() time.Time
}

// NewService constructs notification domain use-cases.
func NewService(store Store, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, clock: clock}
}

// Publish stores one notification item with a deterministic identifier.
//
// Publishing the same (lead, kind, agent) event twice is harmless: the
// second insert lands on the existing row and never clears its read state,
// which is what makes at-least-once delivery safe upstream.
func (s *Service) Publish(ctx context.Context, input PublishInput) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrStoreNotConfigured
	}
	recipientAgentID := strings.TrimSpace(input.RecipientAgentID)
	if recipientAgentID == "" {
		return Notification{}, ErrRecipientAgentIDRequired
	}
	leadID := strings.TrimSpace(input.LeadID)
	if leadID == "" {
		return Notification{}, ErrLeadIDRequired
	}
	kind := NormalizeKind(string(input.Kind))
	if !kind.Valid() {
		return Notification{}, ErrInvalidKind
	}

	notification := Notification{
		ID:               NotificationID(leadID, kind, recipientAgentID),
		RecipientAgentID: recipientAgentID,
		Kind:             kind,
		LeadID:           leadID,
		PayloadJSON:      strings.TrimSpace(input.PayloadJSON),
		CreatedAt:        s.nowUTC(),
	}
	if err := s.store.PutNotification(ctx, notification); err != nil {
		return Notification{}, err
	}
	return notification, nil
}

// ListInbox lists recipient inbox notifications newest first.
func (s *Service) ListInbox(ctx context.Context, input ListInboxInput) (NotificationPage, error) {
	if s == nil || s.store == nil {
		return NotificationPage{}, ErrStoreNotConfigured
	}
	recipientAgentID := strings.TrimSpace(input.RecipientAgentID)
	if recipientAgentID == "" {
		return NotificationPage{}, ErrRecipientAgentIDRequired
	}
	pageSize := input.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	return s.store.ListNotificationsByRecipient(ctx, recipientAgentID, pageSize, strings.TrimSpace(input.PageToken))
}

// CountUnread returns the recipient's unread badge count.
func (s *Service) CountUnread(ctx context.Context, recipientAgentID string) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	recipientAgentID = strings.TrimSpace(recipientAgentID)
	if recipientAgentID == "" {
		return 0, ErrRecipientAgentIDRequired
	}
	return s.store.CountUnreadByRecipient(ctx, recipientAgentID)
}

// MarkRead marks one recipient notification as read. Marking an
// already-read notification again is a no-op, not an error.
func (s *Service) MarkRead(ctx context.Context, recipientAgentID string, notificationID string) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrStoreNotConfigured
	}
	recipientAgentID = strings.TrimSpace(recipientAgentID)
	if recipientAgentID == "" {
		return Notification{}, ErrRecipientAgentIDRequired
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return Notification{}, ErrNotificationIDRequired
	}
	notification, _, err := s.store.MarkNotificationRead(ctx, recipientAgentID, notificationID, s.nowUTC())
	return notification, err
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}
