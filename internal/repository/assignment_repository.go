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

// AssignmentRepository manages assignments and their per-student targets.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs an AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// CreateWithTargets inserts the assignment and one PENDING target per
// roster member in a single transaction. The target list is a snapshot of
// the roster at publication time.
func (r *AssignmentRepository) CreateWithTargets(ctx context.Context, assignment *models.Assignment, studentIDs []string) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	assignment.CreatedAt = time.Now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback()

	const insertAssignment = `INSERT INTO assignments (id, class_id, title, prompt, level, due_at, created_by, created_at)
        VALUES (:id, :class_id, :title, :prompt, :level, :due_at, :created_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertAssignment, assignment); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}

	const insertTarget = `INSERT INTO assignment_targets (id, assignment_id, student_id, status, created_at)
        VALUES ($1, $2, $3, $4, $5)`
	for _, studentID := range studentIDs {
		if _, err := tx.ExecContext(ctx, insertTarget,
			uuid.NewString(), assignment.ID, studentID, models.TargetStatusPending, assignment.CreatedAt); err != nil {
			return fmt.Errorf("insert assignment target: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish tx: %w", err)
	}
	assignment.TargetCount = len(studentIDs)
	return nil
}

// FindByID fetches an assignment with its target count.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT a.id, a.class_id, a.title, a.prompt, a.level, a.due_at, a.created_by, a.created_at,
        (SELECT COUNT(*) FROM assignment_targets t WHERE t.assignment_id = a.id) AS target_count
        FROM assignments a WHERE a.id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by id: %w", err)
	}
	return &assignment, nil
}

// List returns assignments for a class, or those targeting a student.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	base := `FROM assignments a WHERE 1=1`
	var args []interface{}
	if filter.ClassID != "" {
		base += fmt.Sprintf(" AND a.class_id = $%d", len(args)+1)
		args = append(args, filter.ClassID)
	}
	if filter.StudentID != "" {
		base += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM assignment_targets t WHERE t.assignment_id = a.id AND t.student_id = $%d)", len(args)+1)
		args = append(args, filter.StudentID)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.class_id, a.title, a.prompt, a.level, a.due_at, a.created_by, a.created_at,
        (SELECT COUNT(*) FROM assignment_targets t WHERE t.assignment_id = a.id) AS target_count
        %s ORDER BY a.due_at ASC LIMIT %d OFFSET %d`, base, size, offset)

	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	return assignments, total, nil
}

// ListTargets returns the per-student targets of one assignment with the
// student snapshot.
func (r *AssignmentRepository) ListTargets(ctx context.Context, assignmentID string) ([]models.AssignmentTargetDetail, error) {
	const query = `SELECT t.id, t.assignment_id, t.student_id, t.status, t.submitted_at, t.created_at,
        u.display_name AS student_name, u.email AS student_email
        FROM assignment_targets t
        JOIN users u ON u.id = t.student_id
        WHERE t.assignment_id = $1
        ORDER BY u.display_name ASC`
	var targets []models.AssignmentTargetDetail
	if err := r.db.SelectContext(ctx, &targets, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list assignment targets: %w", err)
	}
	return targets, nil
}

// FindTarget fetches the target row for one student on one assignment.
func (r *AssignmentRepository) FindTarget(ctx context.Context, assignmentID, studentID string) (*models.AssignmentTarget, error) {
	const query = `SELECT id, assignment_id, student_id, status, submitted_at, created_at
        FROM assignment_targets WHERE assignment_id = $1 AND student_id = $2`
	var target models.AssignmentTarget
	if err := r.db.GetContext(ctx, &target, query, assignmentID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment target: %w", err)
	}
	return &target, nil
}

// MarkSubmitted transitions a PENDING target to SUBMITTED. The guard on the
// current status makes SUBMITTED terminal: retries and a racing late sweep
// cannot overwrite it. Returns false when no transition happened.
func (r *AssignmentRepository) MarkSubmitted(ctx context.Context, targetID string, at time.Time) (bool, error) {
	const query = `UPDATE assignment_targets SET status = $2, submitted_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, targetID, models.TargetStatusSubmitted, at, models.TargetStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark target submitted: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// MarkLateDue flips PENDING targets of overdue assignments to LATE and
// returns the flipped rows. The status guard makes the flip happen at most
// once per target across repeated and concurrent sweeps.
func (r *AssignmentRepository) MarkLateDue(ctx context.Context, now time.Time, limit int) ([]models.LateTarget, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`UPDATE assignment_targets t SET status = $1
        FROM assignments a
        WHERE a.id = t.assignment_id
          AND t.status = $2
          AND a.due_at < $3
          AND t.id IN (
              SELECT t2.id FROM assignment_targets t2
              JOIN assignments a2 ON a2.id = t2.assignment_id
              WHERE t2.status = $2 AND a2.due_at < $3
              ORDER BY a2.due_at ASC
              LIMIT %d
          )
        RETURNING t.id AS target_id, t.assignment_id, t.student_id, a.title, a.class_id`, limit)
	var late []models.LateTarget
	if err := r.db.SelectContext(ctx, &late, query, models.TargetStatusLate, models.TargetStatusPending, now); err != nil {
		return nil, fmt.Errorf("mark late targets: %w", err)
	}
	return late, nil
}
