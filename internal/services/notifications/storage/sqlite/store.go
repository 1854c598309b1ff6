// Package sqlite implements notification persistence over modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/habitar/leadengine/internal/platform/storage/sqlitemigrate"
	"github.com/habitar/leadengine/internal/services/notifications/storage"
	"github.com/habitar/leadengine/internal/services/notifications/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for notification state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a notifications SQLite store at the provided path.
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

// PutNotification upserts one inbox row without disturbing read state.
func (s *Store) PutNotification(ctx context.Context, record storage.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeNotificationRecord(record)
	if err != nil {
		return err
	}

	var readAt sql.NullInt64
	if normalized.ReadAt != nil {
		readAt = sql.NullInt64{Int64: toMillis(*normalized.ReadAt), Valid: true}
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO notifications (id, recipient_agent_id, kind, lead_id, payload_json, created_at, read_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(recipient_agent_id, id) DO UPDATE SET
	kind = excluded.kind,
	lead_id = excluded.lead_id,
	payload_json = excluded.payload_json
`,
		normalized.ID,
		normalized.RecipientAgentID,
		normalized.Kind,
		normalized.LeadID,
		normalized.PayloadJSON,
		toMillis(normalized.CreatedAt),
		readAt,
	); err != nil {
		return fmt.Errorf("put notification: %w", err)
	}
	return nil
}

// GetNotification loads one recipient notification by ID.
func (s *Store) GetNotification(ctx context.Context, recipientAgentID string, notificationID string) (storage.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.NotificationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.NotificationRecord{}, fmt.Errorf("storage is not configured")
	}
	recipientAgentID = strings.TrimSpace(recipientAgentID)
	notificationID = strings.TrimSpace(notificationID)
	if recipientAgentID == "" || notificationID == "" {
		return storage.NotificationRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, recipient_agent_id, kind, lead_id, payload_json, created_at, read_at
FROM notifications
WHERE recipient_agent_id = ? AND id = ?
`, recipientAgentID, notificationID)
	record, err := scanNotification(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.NotificationRecord{}, storage.ErrNotFound
		}
		return storage.NotificationRecord{}, fmt.Errorf("get notification: %w", err)
	}
	return record, nil
}

// ListNotificationsByRecipient lists one recipient inbox newest-first with
// cursor pagination.
func (s *Store) ListNotificationsByRecipient(ctx context.Context, recipientAgentID string, pageSize int, pageToken string) (storage.NotificationPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.NotificationPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.NotificationPage{}, fmt.Errorf("storage is not configured")
	}
	recipientAgentID = strings.TrimSpace(recipientAgentID)
	pageToken = strings.TrimSpace(pageToken)
	if recipientAgentID == "" {
		return storage.NotificationPage{}, fmt.Errorf("recipient agent id is required")
	}
	if pageSize <= 0 {
		return storage.NotificationPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	if pageToken == "" {
		rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, recipient_agent_id, kind, lead_id, payload_json, created_at, read_at
FROM notifications
WHERE recipient_agent_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, recipientAgentID, limit)
		if err != nil {
			return storage.NotificationPage{}, fmt.Errorf("list notifications: %w", err)
		}
		defer rows.Close()
		return collectNotificationPage(rows, pageSize)
	}

	tokenCreatedAt, err := s.notificationCreatedAtByID(ctx, recipientAgentID, pageToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.NotificationPage{}, fmt.Errorf("%w: %q", storage.ErrInvalidPageToken, pageToken)
		}
		return storage.NotificationPage{}, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, recipient_agent_id, kind, lead_id, payload_json, created_at, read_at
FROM notifications
WHERE recipient_agent_id = ?
  AND (created_at < ? OR (created_at = ? AND id < ?))
ORDER BY created_at DESC, id DESC
LIMIT ?
`, recipientAgentID, toMillis(tokenCreatedAt), toMillis(tokenCreatedAt), pageToken, limit)
	if err != nil {
		return storage.NotificationPage{}, fmt.Errorf("list notifications with token: %w", err)
	}
	defer rows.Close()
	return collectNotificationPage(rows, pageSize)
}

// CountUnreadByRecipient returns unread inbox count for one recipient.
func (s *Store) CountUnreadByRecipient(ctx context.Context, recipientAgentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	recipientAgentID = strings.TrimSpace(recipientAgentID)
	if recipientAgentID == "" {
		return 0, fmt.Errorf("recipient agent id is required")
	}

	var unreadCount int
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(1)
FROM notifications
WHERE recipient_agent_id = ?
  AND read_at IS NULL
`, recipientAgentID).Scan(&unreadCount); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return unreadCount, nil
}

// MarkNotificationRead sets read_at once; a second call leaves the original
// timestamp and reports transitioned=false.
func (s *Store) MarkNotificationRead(ctx context.Context, recipientAgentID string, notificationID string, readAt time.Time) (storage.NotificationRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.NotificationRecord{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.NotificationRecord{}, false, fmt.Errorf("storage is not configured")
	}
	recipientAgentID = strings.TrimSpace(recipientAgentID)
	notificationID = strings.TrimSpace(notificationID)
	if recipientAgentID == "" {
		return storage.NotificationRecord{}, false, fmt.Errorf("recipient agent id is required")
	}
	if notificationID == "" {
		return storage.NotificationRecord{}, false, fmt.Errorf("notification id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE notifications
SET read_at = ?
WHERE recipient_agent_id = ?
  AND id = ?
  AND read_at IS NULL
`, toMillis(readAt.UTC()), recipientAgentID, notificationID)
	if err != nil {
		return storage.NotificationRecord{}, false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.NotificationRecord{}, false, fmt.Errorf("mark notification read rows affected: %w", err)
	}

	record, err := s.GetNotification(ctx, recipientAgentID, notificationID)
	if err != nil {
		return storage.NotificationRecord{}, false, err
	}
	return record, affected == 1, nil
}

func (s *Store) notificationCreatedAtByID(ctx context.Context, recipientAgentID string, notificationID string) (time.Time, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT created_at
FROM notifications
WHERE recipient_agent_id = ? AND id = ?
`, recipientAgentID, notificationID)
	var createdAtMillis int64
	if err := row.Scan(&createdAtMillis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("lookup notification cursor: %w", err)
	}
	return fromMillis(createdAtMillis), nil
}

type scanner func(dest ...any) error

func normalizeNotificationRecord(record storage.NotificationRecord) (storage.NotificationRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.RecipientAgentID = strings.TrimSpace(record.RecipientAgentID)
	record.Kind = strings.TrimSpace(record.Kind)
	record.LeadID = strings.TrimSpace(record.LeadID)
	record.PayloadJSON = strings.TrimSpace(record.PayloadJSON)
	if record.PayloadJSON == "" {
		record.PayloadJSON = "{}"
	}
	if record.ID == "" {
		return storage.NotificationRecord{}, fmt.Errorf("notification id is required")
	}
	if record.RecipientAgentID == "" {
		return storage.NotificationRecord{}, fmt.Errorf("recipient agent id is required")
	}
	if record.Kind == "" {
		return storage.NotificationRecord{}, fmt.Errorf("notification kind is required")
	}
	if record.LeadID == "" {
		return storage.NotificationRecord{}, fmt.Errorf("notification lead id is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.NotificationRecord{}, fmt.Errorf("created_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.ReadAt != nil {
		readAt := record.ReadAt.UTC()
		record.ReadAt = &readAt
	}
	return record, nil
}

func scanNotification(scan scanner) (storage.NotificationRecord, error) {
	var record storage.NotificationRecord
	var createdAt int64
	var readAt sql.NullInt64
	if err := scan(
		&record.ID,
		&record.RecipientAgentID,
		&record.Kind,
		&record.LeadID,
		&record.PayloadJSON,
		&createdAt,
		&readAt,
	); err != nil {
		return storage.NotificationRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	if readAt.Valid {
		value := fromMillis(readAt.Int64)
		record.ReadAt = &value
	}
	return record, nil
}

func collectNotificationPage(rows *sql.Rows, pageSize int) (storage.NotificationPage, error) {
	page := storage.NotificationPage{
		Notifications: make([]storage.NotificationRecord, 0, pageSize),
	}
	for rows.Next() {
		record, err := scanNotification(rows.Scan)
		if err != nil {
			return storage.NotificationPage{}, fmt.Errorf("scan notification row: %w", err)
		}
		page.Notifications = append(page.Notifications, record)
	}
	if err := rows.Err(); err != nil {
		return storage.NotificationPage{}, fmt.Errorf("iterate notification rows: %w", err)
	}
	if len(page.Notifications) > pageSize {
		page.NextPageToken = page.Notifications[pageSize-1].ID
		page.Notifications = page.Notifications[:pageSize]
	}
	return page, nil
}
