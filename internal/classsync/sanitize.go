package classsync

import (
	"encoding/json"
	"time"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// AuthorJoin is the tagged result of resolving a post or reply author
// through a relational join. The join can legitimately come back as a
// well-formed profile, as null, as an object missing the id field, or as
// an explicit error marker. Decoding collapses everything that is not a
// well-formed profile into the RelationError state so the ambiguity never
// travels past the sanitizer.
type AuthorJoin struct {
	Author *models.Author
	Err    bool
}

// UnmarshalJSON implements the tolerant decode. It never fails: any shape
// it does not recognise becomes the RelationError state.
func (aj *AuthorJoin) UnmarshalJSON(data []byte) error {
	aj.Author = nil
	aj.Err = false

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil || probe == nil {
		aj.Err = true
		return nil
	}
	if _, marked := probe["error"]; marked {
		aj.Err = true
		return nil
	}
	idRaw, ok := probe["id"]
	if !ok {
		aj.Err = true
		return nil
	}

	var author models.Author
	if err := json.Unmarshal(idRaw, &author.ID); err != nil || author.ID == "" {
		aj.Err = true
		return nil
	}
	if nameRaw, ok := probe["display_name"]; ok {
		_ = json.Unmarshal(nameRaw, &author.DisplayName)
	}
	if author.DisplayName == "" {
		author.DisplayName = models.UnknownAuthorName
	}

	aj.Author = &author
	return nil
}

// RawPost is a post row as returned by the data gateway, author join and
// nested reply rows included, before sanitization.
type RawPost struct {
	ID        string     `json:"id"`
	ClassID   string     `json:"class_id"`
	AuthorID  string     `json:"author_id"`
	Author    AuthorJoin `json:"author"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	Replies   []RawReply `json:"replies"`
}

// RawReply is a reply row before sanitization.
type RawReply struct {
	ID        string     `json:"id"`
	PostID    string     `json:"post_id"`
	AuthorID  string     `json:"author_id"`
	Author    AuthorJoin `json:"author"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

// SanitizePost converts a raw row into a well-formed Post. It is total:
// whatever the author join contained, the result carries a non-nil Author,
// falling back to the Unknown sentinel keyed by the original foreign key.
// The same rule is applied to every nested reply. Replies are returned in
// ascending CreatedAt order with a non-nil slice so callers never
// nil-check.
func SanitizePost(raw RawPost) models.Post {
	post := models.Post{
		ID:        raw.ID,
		ClassID:   raw.ClassID,
		AuthorID:  raw.AuthorID,
		Author:    resolveAuthor(raw.Author, raw.AuthorID),
		Content:   raw.Content,
		CreatedAt: raw.CreatedAt,
		Replies:   make([]models.Reply, 0, len(raw.Replies)),
	}
	for _, r := range raw.Replies {
		post.Replies = append(post.Replies, SanitizeReply(r))
	}
	sortReplies(post.Replies)
	return post
}

// SanitizeReply converts a raw reply row into a well-formed Reply.
func SanitizeReply(raw RawReply) models.Reply {
	return models.Reply{
		ID:        raw.ID,
		PostID:    raw.PostID,
		AuthorID:  raw.AuthorID,
		Author:    resolveAuthor(raw.Author, raw.AuthorID),
		Content:   raw.Content,
		CreatedAt: raw.CreatedAt,
	}
}

func resolveAuthor(join AuthorJoin, foreignKey string) models.Author {
	if !join.Err && join.Author != nil && join.Author.ID != "" {
		return *join.Author
	}
	return models.Author{ID: foreignKey, DisplayName: models.UnknownAuthorName}
}
