package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// ClassRepository manages persistence for classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// Create inserts a new class.
func (r *ClassRepository) Create(ctx context.Context, class *models.ClassRoom) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now()
	class.CreatedAt = now
	class.UpdatedAt = now
	const query = `INSERT INTO classes (id, name, join_code, owner_id, created_at, updated_at)
        VALUES (:id, :name, :join_code, :owner_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// FindByID fetches a class detail by ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	const query = `SELECT c.id, c.name, c.join_code, c.owner_id, c.created_at, c.updated_at,
        u.display_name AS owner_name,
        (SELECT COUNT(*) FROM roster_entries re WHERE re.class_id = c.id) AS member_count
        FROM classes c
        JOIN users u ON u.id = c.owner_id
        WHERE c.id = $1`
	var detail models.ClassDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class by id: %w", err)
	}
	return &detail, nil
}

// FindByJoinCode resolves a class by its join code. The code is stored
// normalized, so callers normalize before lookup.
func (r *ClassRepository) FindByJoinCode(ctx context.Context, code string) (*models.ClassRoom, error) {
	const query = `SELECT id, name, join_code, owner_id, created_at, updated_at FROM classes WHERE join_code = $1 LIMIT 1`
	var class models.ClassRoom
	if err := r.db.GetContext(ctx, &class, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class by join code: %w", err)
	}
	return &class, nil
}

// ExistsByJoinCode checks whether a join code is already taken.
func (r *ClassRepository) ExistsByJoinCode(ctx context.Context, code string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM classes WHERE join_code = $1 LIMIT 1`, code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check join code: %w", err)
	}
	return true, nil
}

// List returns classes visible to the filter: owned by a teacher or joined
// by a student.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	base := `FROM classes c JOIN users u ON u.id = c.owner_id`
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("c.owner_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM roster_entries re WHERE re.class_id = c.id AND re.student_id = $%d)", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(c.name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT c.id, c.name, c.join_code, c.owner_id, c.created_at, c.updated_at,
        u.display_name AS owner_name,
        (SELECT COUNT(*) FROM roster_entries re WHERE re.class_id = c.id) AS member_count
        %s ORDER BY c.created_at DESC LIMIT %d OFFSET %d`, base, size, offset)

	var classes []models.ClassDetail
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// Delete removes a class. Roster entries, posts and replies cascade on the
// foreign key.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
