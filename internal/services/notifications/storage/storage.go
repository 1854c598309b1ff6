// Package storage defines the persistence boundary for agent notifications.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested notification record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidPageToken indicates a page token that matches no stored record.
	ErrInvalidPageToken = errors.New("invalid page token")
)

// NotificationRecord stores one agent notification inbox item.
type NotificationRecord struct {
	ID               string
	RecipientAgentID string
	Kind             string
	LeadID           string
	PayloadJSON      string
	CreatedAt        time.Time
	ReadAt           *time.Time
}

// NotificationPage stores a paged inbox listing result.
type NotificationPage struct {
	Notifications []NotificationRecord
	NextPageToken string
}

// NotificationStore persists notification inbox state.
//
// PutNotification must be an idempotent upsert keyed by notification ID
// that never clears read_at, so duplicate publishes of the same event
// leave acknowledged items acknowledged. MarkNotificationRead reports
// whether this call transitioned the row (false means it was already read).
type NotificationStore interface {
	PutNotification(ctx context.Context, record NotificationRecord) error
	GetNotification(ctx context.Context, recipientAgentID string, notificationID string) (NotificationRecord, error)
	ListNotificationsByRecipient(ctx context.Context, recipientAgentID string, pageSize int, pageToken string) (NotificationPage, error)
	CountUnreadByRecipient(ctx context.Context, recipientAgentID string) (int, error)
	MarkNotificationRead(ctx context.Context, recipientAgentID string, notificationID string, readAt time.Time) (NotificationRecord, bool, error)
}
