package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostRow is a post with its author join resolved through a LEFT JOIN. The
// author columns are nullable: a deleted or otherwise unresolvable profile
// comes back as NULL rather than failing the query, and the sync layer
// substitutes the Unknown author.
type PostRow struct {
	ID         string    `db:"id"`
	ClassID    string    `db:"class_id"`
	AuthorID   string    `db:"author_id"`
	Content    string    `db:"content"`
	CreatedAt  time.Time `db:"created_at"`
	AuthorRef  *string   `db:"author_ref"`
	AuthorName *string   `db:"author_name"`
}

// ReplyRow is a reply with its author join resolved the same way.
type ReplyRow struct {
	ID         string    `db:"id"`
	PostID     string    `db:"post_id"`
	AuthorID   string    `db:"author_id"`
	Content    string    `db:"content"`
	CreatedAt  time.Time `db:"created_at"`
	AuthorRef  *string   `db:"author_ref"`
	AuthorName *string   `db:"author_name"`
}

// ForumRepository manages posts and replies.
type ForumRepository struct {
	db *sqlx.DB
}

// NewForumRepository constructs a ForumRepository.
func NewForumRepository(db *sqlx.DB) *ForumRepository {
	return &ForumRepository{db: db}
}

// CreatePost inserts a post and returns its generated id.
func (r *ForumRepository) CreatePost(ctx context.Context, classID, authorID, content string) (string, error) {
	id := uuid.NewString()
	const query = `INSERT INTO posts (id, class_id, author_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, id, classID, authorID, content, time.Now()); err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	return id, nil
}

// CreateReply inserts a reply under an existing post.
func (r *ForumRepository) CreateReply(ctx context.Context, postID, authorID, content string) (string, error) {
	id := uuid.NewString()
	const query = `INSERT INTO replies (id, post_id, author_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, id, postID, authorID, content, time.Now()); err != nil {
		return "", fmt.Errorf("create reply: %w", err)
	}
	return id, nil
}

const postRowColumns = `p.id, p.class_id, p.author_id, p.content, p.created_at,
        u.id AS author_ref, u.display_name AS author_name`

// GetPostRow fetches one post with its author join.
func (r *ForumRepository) GetPostRow(ctx context.Context, postID string) (*PostRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM posts p LEFT JOIN users u ON u.id = p.author_id WHERE p.id = $1`, postRowColumns)
	var row PostRow
	if err := r.db.GetContext(ctx, &row, query, postID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &row, nil
}

// ListPostRows returns every post in a class in ascending creation order.
func (r *ForumRepository) ListPostRows(ctx context.Context, classID string) ([]PostRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM posts p LEFT JOIN users u ON u.id = p.author_id
        WHERE p.class_id = $1 ORDER BY p.created_at ASC, p.id ASC`, postRowColumns)
	var rows []PostRow
	if err := r.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return rows, nil
}

const replyRowColumns = `rp.id, rp.post_id, rp.author_id, rp.content, rp.created_at,
        u.id AS author_ref, u.display_name AS author_name`

// ListReplyRowsByPost returns the replies of one post in ascending order.
func (r *ForumRepository) ListReplyRowsByPost(ctx context.Context, postID string) ([]ReplyRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM replies rp LEFT JOIN users u ON u.id = rp.author_id
        WHERE rp.post_id = $1 ORDER BY rp.created_at ASC, rp.id ASC`, replyRowColumns)
	var rows []ReplyRow
	if err := r.db.SelectContext(ctx, &rows, query, postID); err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return rows, nil
}

// ListReplyRowsByClass returns every reply on posts in a class, for the
// initial feed load.
func (r *ForumRepository) ListReplyRowsByClass(ctx context.Context, classID string) ([]ReplyRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM replies rp
        JOIN posts p ON p.id = rp.post_id
        LEFT JOIN users u ON u.id = rp.author_id
        WHERE p.class_id = $1 ORDER BY rp.created_at ASC, rp.id ASC`, replyRowColumns)
	var rows []ReplyRow
	if err := r.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, fmt.Errorf("list class replies: %w", err)
	}
	return rows, nil
}

// DeletePost removes a post; its replies cascade on the foreign key.
func (r *ForumRepository) DeletePost(ctx context.Context, postID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetReplyMeta returns the author and parent post of a reply, for
// permission checks before deletion.
func (r *ForumRepository) GetReplyMeta(ctx context.Context, replyID string) (authorID, postID, classID string, err error) {
	const query = `SELECT rp.author_id, rp.post_id, p.class_id FROM replies rp JOIN posts p ON p.id = rp.post_id WHERE rp.id = $1`
	var row struct {
		AuthorID string `db:"author_id"`
		PostID   string `db:"post_id"`
		ClassID  string `db:"class_id"`
	}
	if err = r.db.GetContext(ctx, &row, query, replyID); err != nil {
		if err == sql.ErrNoRows {
			return "", "", "", err
		}
		return "", "", "", fmt.Errorf("get reply meta: %w", err)
	}
	return row.AuthorID, row.PostID, row.ClassID, nil
}

// DeleteReply removes one reply.
func (r *ForumRepository) DeleteReply(ctx context.Context, replyID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM replies WHERE id = $1`, replyID)
	if err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
