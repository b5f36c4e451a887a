package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// CorrectionRepository stores AI correction results and teacher reviews.
type CorrectionRepository struct {
	db *sqlx.DB
}

// NewCorrectionRepository constructs a CorrectionRepository.
func NewCorrectionRepository(db *sqlx.DB) *CorrectionRepository {
	return &CorrectionRepository{db: db}
}

// CreatePending inserts a PENDING correction row for a fresh submission.
func (r *CorrectionRepository) CreatePending(ctx context.Context, submissionID string) (*models.Correction, error) {
	now := time.Now()
	correction := &models.Correction{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Status:       models.CorrectionStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	const query = `INSERT INTO corrections (id, submission_id, status, created_at, updated_at)
        VALUES (:id, :submission_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, correction); err != nil {
		return nil, fmt.Errorf("create pending correction: %w", err)
	}
	return correction, nil
}

// SetResult stores the webhook payload verbatim and flips the status to
// READY. Payloads are never reshaped on the way in.
func (r *CorrectionRepository) SetResult(ctx context.Context, submissionID string, payload json.RawMessage) error {
	const query = `UPDATE corrections SET status = $2, payload = $3, updated_at = $4 WHERE submission_id = $1`
	res, err := r.db.ExecContext(ctx, query, submissionID, models.CorrectionStatusReady, []byte(payload), time.Now())
	if err != nil {
		return fmt.Errorf("store correction result: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetFailed marks the correction round trip as failed.
func (r *CorrectionRepository) SetFailed(ctx context.Context, submissionID string) error {
	const query = `UPDATE corrections SET status = $2, updated_at = $3 WHERE submission_id = $1`
	if _, err := r.db.ExecContext(ctx, query, submissionID, models.CorrectionStatusFailed, time.Now()); err != nil {
		return fmt.Errorf("mark correction failed: %w", err)
	}
	return nil
}

// FindBySubmission fetches the correction attached to a submission.
func (r *CorrectionRepository) FindBySubmission(ctx context.Context, submissionID string) (*models.Correction, error) {
	const query = `SELECT id, submission_id, status, payload, teacher_feedback, reviewed_by, reviewed_at, created_at, updated_at
        FROM corrections WHERE submission_id = $1 LIMIT 1`
	var correction models.Correction
	if err := r.db.GetContext(ctx, &correction, query, submissionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find correction: %w", err)
	}
	return &correction, nil
}

// Review layers teacher feedback on top of a READY correction and marks it
// REVIEWED. Reviewing requires a result to be present.
func (r *CorrectionRepository) Review(ctx context.Context, submissionID, teacherID, feedback string) error {
	const query = `UPDATE corrections SET status = $2, teacher_feedback = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5
        WHERE submission_id = $1 AND status IN ($6, $2)`
	res, err := r.db.ExecContext(ctx, query, submissionID, models.CorrectionStatusReviewed, feedback, teacherID, time.Now(), models.CorrectionStatusReady)
	if err != nil {
		return fmt.Errorf("review correction: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
