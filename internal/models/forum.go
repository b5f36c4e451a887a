package models

import "time"

// Author is a denormalized, always-non-null projection of a user profile.
// Posts and replies carry one even when the underlying join failed; the
// sanitizer substitutes the Unknown sentinel in that case.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// UnknownAuthorName is the display name substituted when an author join
// cannot be resolved.
const UnknownAuthorName = "Unknown"

// Post is a top-level forum entry in a class. Posts are ordered ascending
// by CreatedAt within a class (append-only feed semantics).
type Post struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"class_id"`
	AuthorID  string    `json:"author_id"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Replies   []Reply   `json:"replies"`
}

// Reply belongs to exactly one Post and follows the same ordering and
// deletion rules.
type Reply struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
