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

// SubmissionRepository manages essay submissions.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs a SubmissionRepository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a submission row.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now()
	}
	const query = `INSERT INTO submissions (id, assignment_id, student_id, file_name, text, word_count, submitted_at)
        VALUES (:id, :assignment_id, :student_id, :file_name, :text, :word_count, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, submission); err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// FindByID fetches a submission by identifier.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	const query = `SELECT id, assignment_id, student_id, file_name, text, word_count, submitted_at
        FROM submissions WHERE id = $1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find submission by id: %w", err)
	}
	return &submission, nil
}

// FindByTarget fetches the submission one student made for one assignment.
func (r *SubmissionRepository) FindByTarget(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	const query = `SELECT id, assignment_id, student_id, file_name, text, word_count, submitted_at
        FROM submissions WHERE assignment_id = $1 AND student_id = $2 LIMIT 1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, assignmentID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find submission by target: %w", err)
	}
	return &submission, nil
}

// ListByAssignment returns all submissions for an assignment ordered by
// submission time.
func (r *SubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	const query = `SELECT id, assignment_id, student_id, file_name, text, word_count, submitted_at
        FROM submissions WHERE assignment_id = $1 ORDER BY submitted_at ASC`
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return submissions, nil
}
