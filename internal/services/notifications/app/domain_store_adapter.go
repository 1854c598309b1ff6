// Package app wires notification domain behavior to concrete persistence.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/habitar/leadengine/internal/services/notifications/domain"
	"github.com/habitar/leadengine/internal/services/notifications/storage"
)

type domainStoreAdapter struct {
	store storage.NotificationStore
}

// NewService builds a notification domain service over a storage backend.
func NewService(store storage.NotificationStore, clock func() time.Time) *domain.Service {
	return domain.NewService(&domainStoreAdapter{store: store}, clock)
}

func (a *domainStoreAdapter) PutNotification(ctx context.Context, notification domain.Notification) error {
	if a == nil || a.store == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.store.PutNotification(ctx, toStorageNotification(notification)))
}

func (a *domainStoreAdapter) GetNotification(ctx context.Context, recipientAgentID string, notificationID string) (domain.Notification, error) {
	if a == nil || a.store == nil {
		return domain.Notification{}, domain.ErrStoreNotConfigured
	}
	record, err := a.store.GetNotification(ctx, recipientAgentID, notificationID)
	if err != nil {
		return domain.Notification{}, mapStorageError(err)
	}
	return toDomainNotification(record), nil
}

func (a *domainStoreAdapter) ListNotificationsByRecipient(ctx context.Context, recipientAgentID string, pageSize int, pageToken string) (domain.NotificationPage, error) {
	if a == nil || a.store == nil {
		return domain.NotificationPage{}, domain.ErrStoreNotConfigured
	}
	page, err := a.store.ListNotificationsByRecipient(ctx, recipientAgentID, pageSize, pageToken)
	if err != nil {
		return domain.NotificationPage{}, mapStorageError(err)
	}
	result := domain.NotificationPage{
		Notifications: make([]domain.Notification, 0, len(page.Notifications)),
		NextPageToken: page.NextPageToken,
	}
	for _, record := range page.Notifications {
		result.Notifications = append(result.Notifications, toDomainNotification(record))
	}
	return result, nil
}

func (a *domainStoreAdapter) CountUnreadByRecipient(ctx context.Context, recipientAgentID string) (int, error) {
	if a == nil || a.store == nil {
		return 0, domain.ErrStoreNotConfigured
	}
	count, err := a.store.CountUnreadByRecipient(ctx, recipientAgentID)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return count, nil
}

func (a *domainStoreAdapter) MarkNotificationRead(ctx context.Context, recipientAgentID string, notificationID string, readAt time.Time) (domain.Notification, bool, error) {
	if a == nil || a.store == nil {
		return domain.Notification{}, false, domain.ErrStoreNotConfigured
	}
	record, transitioned, err := a.store.MarkNotificationRead(ctx, recipientAgentID, notificationID, readAt)
	if err != nil {
		return domain.Notification{}, false, mapStorageError(err)
	}
	return toDomainNotification(record), transitioned, nil
}

func toStorageNotification(notification domain.Notification) storage.NotificationRecord {
	return storage.NotificationRecord{
		ID:               notification.ID,
		RecipientAgentID: notification.RecipientAgentID,
		Kind:             string(notification.Kind),
		LeadID:           notification.LeadID,
		PayloadJSON:      notification.PayloadJSON,
		CreatedAt:        notification.CreatedAt,
		ReadAt:           notification.ReadAt,
	}
}

func toDomainNotification(record storage.NotificationRecord) domain.Notification {
	return domain.Notification{
		ID:               record.ID,
		RecipientAgentID: record.RecipientAgentID,
		Kind:             domain.Kind(record.Kind),
		LeadID:           record.LeadID,
		PayloadJSON:      record.PayloadJSON,
		CreatedAt:        record.CreatedAt,
		ReadAt:           record.ReadAt,
	}
}

func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if errors.Is(err, storage.ErrInvalidPageToken) {
		return domain.ErrInvalidPageToken
	}
	return err
}
