package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/classsync"
	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type forumRepository interface {
	CreatePost(ctx context.Context, classID, authorID, content string) (string, error)
	CreateReply(ctx context.Context, postID, authorID, content string) (string, error)
	DeletePost(ctx context.Context, postID string) error
	DeleteReply(ctx context.Context, replyID string) error
	GetReplyMeta(ctx context.Context, replyID string) (authorID, postID, classID string, err error)
}

type classAuthorizer interface {
	AuthorizeMembership(ctx context.Context, classID string, actor models.JWTClaims) error
}

type classOwnership interface {
	FindByID(ctx context.Context, id string) (*models.ClassDetail, error)
}

// ForumService dispatches forum mutations: each write goes to the database
// first and, once committed, a change event is published so every live
// class view converges on the new state.
type ForumService struct {
	forum     forumRepository
	classes   classOwnership
	access    classAuthorizer
	gateway   classsync.Gateway
	publisher classsync.Publisher
	cache     *CacheService
	logger    *zap.Logger
}

// NewForumService constructs a ForumService. The cache may be nil.
func NewForumService(forum forumRepository, classes classOwnership, access classAuthorizer, gateway classsync.Gateway, publisher classsync.Publisher, cache *CacheService, logger *zap.Logger) *ForumService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForumService{forum: forum, classes: classes, access: access, gateway: gateway, publisher: publisher, cache: cache, logger: logger}
}

// Feed returns the sanitized forum feed of a class in ascending order.
func (s *ForumService) Feed(ctx context.Context, classID string, actor models.JWTClaims) ([]models.Post, error) {
	if err := s.access.AuthorizeMembership(ctx, classID, actor); err != nil {
		return nil, err
	}

	cacheKey := feedCacheKey(classID)
	var cached []models.Post
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	raws, err := s.gateway.FetchPosts(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feed")
	}
	posts := make([]models.Post, 0, len(raws))
	for _, raw := range raws {
		posts = append(posts, classsync.SanitizePost(raw))
	}

	_ = s.cache.Set(ctx, cacheKey, posts, 0)
	return posts, nil
}

// CreatePost writes a post and announces it.
func (s *ForumService) CreatePost(ctx context.Context, classID, content string, actor models.JWTClaims) (*models.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "post content is required")
	}
	if err := s.access.AuthorizeMembership(ctx, classID, actor); err != nil {
		return nil, err
	}

	postID, err := s.forum.CreatePost(ctx, classID, actor.UserID, content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create post")
	}
	s.publish(ctx, classsync.Event{Type: classsync.EventInsert, Relation: classsync.RelationPost, ClassID: classID, EntityID: postID})
	return s.fetchSanitized(ctx, postID)
}

// CreateReply writes a reply under a post and announces it.
func (s *ForumService) CreateReply(ctx context.Context, postID, content string, actor models.JWTClaims) (*models.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reply content is required")
	}

	parent, err := s.gateway.FetchPost(ctx, postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "post not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load post")
	}
	if err := s.access.AuthorizeMembership(ctx, parent.ClassID, actor); err != nil {
		return nil, err
	}

	replyID, err := s.forum.CreateReply(ctx, postID, actor.UserID, content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reply")
	}
	s.publish(ctx, classsync.Event{Type: classsync.EventInsert, Relation: classsync.RelationReply, ClassID: parent.ClassID, EntityID: replyID, PostID: postID})
	return s.fetchSanitized(ctx, postID)
}

// DeletePost removes a post, its replies cascading with it. Allowed for
// the author and the class owner.
func (s *ForumService) DeletePost(ctx context.Context, postID string, actor models.JWTClaims) error {
	raw, err := s.gateway.FetchPost(ctx, postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "post not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load post")
	}
	if err := s.authorizeModeration(ctx, raw.ClassID, raw.AuthorID, actor); err != nil {
		return err
	}

	if err := s.forum.DeletePost(ctx, postID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "post not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete post")
	}
	s.publish(ctx, classsync.Event{Type: classsync.EventDelete, Relation: classsync.RelationPost, ClassID: raw.ClassID, EntityID: postID})
	return nil
}

// DeleteReply removes one reply. Allowed for the author and the class
// owner.
func (s *ForumService) DeleteReply(ctx context.Context, replyID string, actor models.JWTClaims) error {
	authorID, postID, classID, err := s.forum.GetReplyMeta(ctx, replyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reply not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reply")
	}
	if err := s.authorizeModeration(ctx, classID, authorID, actor); err != nil {
		return err
	}

	if err := s.forum.DeleteReply(ctx, replyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reply not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete reply")
	}
	s.publish(ctx, classsync.Event{Type: classsync.EventDelete, Relation: classsync.RelationReply, ClassID: classID, EntityID: replyID, PostID: postID})
	return nil
}

func (s *ForumService) authorizeModeration(ctx context.Context, classID, authorID string, actor models.JWTClaims) error {
	if actor.UserID == authorID || actor.Role == models.RoleAdmin {
		return nil
	}
	detail, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the author or class owner can delete this")
	}
	return nil
}

func (s *ForumService) fetchSanitized(ctx context.Context, postID string) (*models.Post, error) {
	raw, err := s.gateway.FetchPost(ctx, postID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload post")
	}
	post := classsync.SanitizePost(*raw)
	return &post, nil
}

func feedCacheKey(classID string) string {
	return "forum:feed:" + classID
}

// publish announces a committed change and drops the cached feed. Publish
// failures never fail the mutation: the write is durable, clients behind a
// broken feed re-converge on their next load.
func (s *ForumService) publish(ctx context.Context, event classsync.Event) {
	_ = s.cache.Invalidate(ctx, feedCacheKey(event.ClassID))
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish forum change",
			zap.String("class_id", event.ClassID),
			zap.String("relation", string(event.Relation)),
			zap.Error(err))
	}
}
