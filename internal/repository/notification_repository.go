package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts one notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	const query = `INSERT INTO notifications (id, user_id, type, message, link, created_at)
        VALUES (:id, :user_id, :type, :message, :link, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// CreateBatch inserts notifications for many users in one transaction.
func (r *NotificationRepository) CreateBatch(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notification tx: %w", err)
	}
	defer tx.Rollback()

	const query = `INSERT INTO notifications (id, user_id, type, message, link, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	now := time.Now()
	for i := range notifications {
		n := &notifications[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, query, n.ID, n.UserID, n.Type, n.Message, n.Link, n.CreatedAt); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit notification tx: %w", err)
	}
	return nil
}

// ListByUser returns a user's notifications newest first, optionally only
// unread ones.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, page, size int) ([]models.Notification, int, error) {
	base := `FROM notifications WHERE user_id = $1`
	if unreadOnly {
		base += ` AND read_at IS NULL`
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, user_id, type, message, link, created_at, read_at
        %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, size, offset)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, userID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return notifications, total, nil
}

// CountUnread returns the number of unread notifications for a user.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at once. The IS NULL guard makes the transition
// monotonic: repeat calls and races never move the timestamp.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	const query = `UPDATE notifications SET read_at = $3 WHERE id = $1 AND user_id = $2 AND read_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// MarkAllRead sets read_at on every unread notification of a user.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Exists reports whether a notification belongs to the user.
func (r *NotificationRepository) Exists(ctx context.Context, id, userID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2 LIMIT 1`, id, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check notification: %w", err)
	}
	return true, nil
}
