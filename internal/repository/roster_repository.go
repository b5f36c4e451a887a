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

// RosterRepository manages class membership rows.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs a RosterRepository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// Join inserts a membership row. Joining a class the student already
// belongs to is a no-op; the returned flag reports whether a new row was
// actually created.
func (r *RosterRepository) Join(ctx context.Context, classID, studentID string) (bool, error) {
	entry := models.RosterEntry{
		ID:        uuid.NewString(),
		ClassID:   classID,
		StudentID: studentID,
		JoinedAt:  time.Now(),
	}
	const query = `INSERT INTO roster_entries (id, class_id, student_id, joined_at)
        VALUES (:id, :class_id, :student_id, :joined_at)
        ON CONFLICT (class_id, student_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return false, fmt.Errorf("join class: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// Remove deletes a membership row.
func (r *RosterRepository) Remove(ctx context.Context, classID, studentID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM roster_entries WHERE class_id = $1 AND student_id = $2`, classID, studentID)
	if err != nil {
		return fmt.Errorf("remove roster entry: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsMember reports whether the student belongs to the class.
func (r *RosterRepository) IsMember(ctx context.Context, classID, studentID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM roster_entries WHERE class_id = $1 AND student_id = $2 LIMIT 1`, classID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// ListMembers returns the roster with the student profile snapshot, ordered
// by join time.
func (r *RosterRepository) ListMembers(ctx context.Context, classID string) ([]models.RosterMember, error) {
	const query = `SELECT re.id, re.class_id, re.student_id, re.joined_at,
        u.display_name AS student_name, u.email AS student_email, u.target_level
        FROM roster_entries re
        JOIN users u ON u.id = re.student_id
        WHERE re.class_id = $1
        ORDER BY re.joined_at ASC`
	var members []models.RosterMember
	if err := r.db.SelectContext(ctx, &members, query, classID); err != nil {
		return nil, fmt.Errorf("list roster members: %w", err)
	}
	return members, nil
}
