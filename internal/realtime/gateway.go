package realtime

import (
	"context"

	"github.com/lexigrade/lexigrade-api/internal/classsync"
	"github.com/lexigrade/lexigrade-api/internal/models"
	"github.com/lexigrade/lexigrade-api/internal/repository"
)

// RepoGateway adapts the forum and roster repositories to the data gateway
// the sync sessions load from.
type RepoGateway struct {
	forum  *repository.ForumRepository
	roster *repository.RosterRepository
}

// NewRepoGateway constructs a RepoGateway.
func NewRepoGateway(forum *repository.ForumRepository, roster *repository.RosterRepository) *RepoGateway {
	return &RepoGateway{forum: forum, roster: roster}
}

// FetchRoster returns the class roster.
func (g *RepoGateway) FetchRoster(ctx context.Context, classID string) ([]models.RosterMember, error) {
	return g.roster.ListMembers(ctx, classID)
}

// FetchPosts returns all posts of a class with their replies, as raw rows
// carrying the author join result for the sanitizer to resolve.
func (g *RepoGateway) FetchPosts(ctx context.Context, classID string) ([]classsync.RawPost, error) {
	postRows, err := g.forum.ListPostRows(ctx, classID)
	if err != nil {
		return nil, err
	}
	replyRows, err := g.forum.ListReplyRowsByClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	repliesByPost := make(map[string][]classsync.RawReply, len(postRows))
	for _, row := range replyRows {
		repliesByPost[row.PostID] = append(repliesByPost[row.PostID], rawReply(row))
	}

	posts := make([]classsync.RawPost, 0, len(postRows))
	for _, row := range postRows {
		posts = append(posts, rawPost(row, repliesByPost[row.ID]))
	}
	return posts, nil
}

// FetchPost returns one post aggregate.
func (g *RepoGateway) FetchPost(ctx context.Context, postID string) (*classsync.RawPost, error) {
	row, err := g.forum.GetPostRow(ctx, postID)
	if err != nil {
		return nil, err
	}
	replyRows, err := g.forum.ListReplyRowsByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	replies := make([]classsync.RawReply, 0, len(replyRows))
	for _, rr := range replyRows {
		replies = append(replies, rawReply(rr))
	}
	post := rawPost(*row, replies)
	return &post, nil
}

func rawPost(row repository.PostRow, replies []classsync.RawReply) classsync.RawPost {
	return classsync.RawPost{
		ID:        row.ID,
		ClassID:   row.ClassID,
		AuthorID:  row.AuthorID,
		Author:    authorJoin(row.AuthorRef, row.AuthorName),
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		Replies:   replies,
	}
}

func rawReply(row repository.ReplyRow) classsync.RawReply {
	return classsync.RawReply{
		ID:        row.ID,
		PostID:    row.PostID,
		AuthorID:  row.AuthorID,
		Author:    authorJoin(row.AuthorRef, row.AuthorName),
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}
}

// authorJoin maps a LEFT JOIN result to the tagged join state. A NULL ref
// means the profile could not be resolved.
func authorJoin(ref, name *string) classsync.AuthorJoin {
	if ref == nil || *ref == "" {
		return classsync.AuthorJoin{Err: true}
	}
	display := ""
	if name != nil {
		display = *name
	}
	if display == "" {
		display = models.UnknownAuthorName
	}
	return classsync.AuthorJoin{Author: &models.Author{ID: *ref, DisplayName: display}}
}
