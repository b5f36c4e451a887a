package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// ReminderRepository stores scheduled assignment reminders.
type ReminderRepository struct {
	db *sqlx.DB
}

// NewReminderRepository constructs a ReminderRepository.
func NewReminderRepository(db *sqlx.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// CreateBatch inserts a set of reminders in one transaction.
func (r *ReminderRepository) CreateBatch(ctx context.Context, reminders []models.Reminder) error {
	if len(reminders) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reminder tx: %w", err)
	}
	defer tx.Rollback()

	const query = `INSERT INTO reminders (id, assignment_id, student_id, run_at, channel, sent, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)`
	now := time.Now()
	for i := range reminders {
		rem := &reminders[i]
		if rem.ID == "" {
			rem.ID = uuid.NewString()
		}
		if rem.CreatedAt.IsZero() {
			rem.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, query, rem.ID, rem.AssignmentID, rem.StudentID, rem.RunAt, rem.Channel, rem.CreatedBy, rem.CreatedAt); err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reminder tx: %w", err)
	}
	return nil
}

// ListByAssignment returns the reminders scheduled for one assignment.
func (r *ReminderRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Reminder, error) {
	const query = `SELECT id, assignment_id, student_id, run_at, channel, sent, sent_at, created_by, created_at
        FROM reminders WHERE assignment_id = $1 ORDER BY run_at ASC`
	var reminders []models.Reminder
	if err := r.db.SelectContext(ctx, &reminders, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return reminders, nil
}

// ClaimDue atomically claims due, unsent reminders by flipping Sent inside
// the same statement that selects them. A reminder can therefore be
// delivered by at most one sweep even when sweeps overlap.
func (r *ReminderRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`UPDATE reminders SET sent = TRUE, sent_at = $1
        WHERE id IN (
            SELECT id FROM reminders
            WHERE sent = FALSE AND run_at <= $1
            ORDER BY run_at ASC
            LIMIT %d
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, assignment_id, student_id, run_at, channel, sent, sent_at, created_by, created_at`, limit)
	var claimed []models.Reminder
	if err := r.db.SelectContext(ctx, &claimed, query, now); err != nil {
		return nil, fmt.Errorf("claim due reminders: %w", err)
	}
	return claimed, nil
}

// DeleteByAssignment removes pending reminders for an assignment.
func (r *ReminderRepository) DeleteByAssignment(ctx context.Context, assignmentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE assignment_id = $1 AND sent = FALSE`, assignmentID); err != nil {
		return fmt.Errorf("delete reminders: %w", err)
	}
	return nil
}
