package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/classsync"
	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type mockForumRepo struct {
	posts   map[string]*classsync.RawPost
	deleted []string
}

func newMockForumRepo() *mockForumRepo {
	return &mockForumRepo{posts: map[string]*classsync.RawPost{}}
}

func (m *mockForumRepo) CreatePost(ctx context.Context, classID, authorID, content string) (string, error) {
	id := "post-new"
	m.posts[id] = &classsync.RawPost{ID: id, ClassID: classID, AuthorID: authorID, Content: content, CreatedAt: time.Now()}
	return id, nil
}

func (m *mockForumRepo) CreateReply(ctx context.Context, postID, authorID, content string) (string, error) {
	post, ok := m.posts[postID]
	if !ok {
		return "", sql.ErrNoRows
	}
	id := "reply-new"
	post.Replies = append(post.Replies, classsync.RawReply{ID: id, PostID: postID, AuthorID: authorID, Content: content, CreatedAt: time.Now()})
	return id, nil
}

func (m *mockForumRepo) DeletePost(ctx context.Context, postID string) error {
	if _, ok := m.posts[postID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.posts, postID)
	m.deleted = append(m.deleted, postID)
	return nil
}

func (m *mockForumRepo) DeleteReply(ctx context.Context, replyID string) error {
	for _, post := range m.posts {
		for i, reply := range post.Replies {
			if reply.ID == replyID {
				post.Replies = append(post.Replies[:i], post.Replies[i+1:]...)
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (m *mockForumRepo) GetReplyMeta(ctx context.Context, replyID string) (string, string, string, error) {
	for _, post := range m.posts {
		for _, reply := range post.Replies {
			if reply.ID == replyID {
				return reply.AuthorID, post.ID, post.ClassID, nil
			}
		}
	}
	return "", "", "", sql.ErrNoRows
}

type mockForumGateway struct {
	repo *mockForumRepo
}

func (g *mockForumGateway) FetchRoster(ctx context.Context, classID string) ([]models.RosterMember, error) {
	return nil, nil
}

func (g *mockForumGateway) FetchPosts(ctx context.Context, classID string) ([]classsync.RawPost, error) {
	var out []classsync.RawPost
	for _, post := range g.repo.posts {
		if post.ClassID == classID {
			out = append(out, *post)
		}
	}
	return out, nil
}

func (g *mockForumGateway) FetchPost(ctx context.Context, postID string) (*classsync.RawPost, error) {
	post, ok := g.repo.posts[postID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return post, nil
}

type allowAllAccess struct {
	denied map[string]bool
}

func (a allowAllAccess) AuthorizeMembership(ctx context.Context, classID string, actor models.JWTClaims) error {
	if a.denied[actor.UserID] {
		return appErrors.Clone(appErrors.ErrForbidden, "not a member of this class")
	}
	return nil
}

type memoryCacheRepo struct {
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	delete(m.entries, pattern)
	return nil
}

type forumFixture struct {
	svc       *ForumService
	repo      *mockForumRepo
	publisher *capturePublisher
	cacheRepo *memoryCacheRepo
}

func newForumFixture(denied ...string) *forumFixture {
	f := &forumFixture{
		repo:      newMockForumRepo(),
		publisher: &capturePublisher{},
		cacheRepo: newMemoryCacheRepo(),
	}
	deniedSet := map[string]bool{}
	for _, id := range denied {
		deniedSet[id] = true
	}
	classes := newMockClassRepo(&models.ClassDetail{ClassRoom: models.ClassRoom{ID: "class-1", JoinCode: "MNP678", OwnerID: "teacher-1"}})
	cache := NewCacheService(f.cacheRepo, nil, time.Minute, zap.NewNop(), true)
	f.svc = NewForumService(f.repo, classes, allowAllAccess{denied: deniedSet}, &mockForumGateway{repo: f.repo}, f.publisher, cache, zap.NewNop())
	return f
}

func TestForumServiceCreatePostPublishes(t *testing.T) {
	f := newForumFixture()

	post, err := f.svc.CreatePost(context.Background(), "class-1", "  Hello class  ", studentClaims("student-1"))
	require.NoError(t, err)
	assert.Equal(t, "Hello class", post.Content)
	assert.NotNil(t, post.Replies)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, classsync.EventInsert, f.publisher.events[0].Type)
	assert.Equal(t, classsync.RelationPost, f.publisher.events[0].Relation)
	assert.Equal(t, post.ID, f.publisher.events[0].EntityID)
}

func TestForumServiceCreatePostEmptyContent(t *testing.T) {
	f := newForumFixture()

	_, err := f.svc.CreatePost(context.Background(), "class-1", "   ", studentClaims("student-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestForumServiceCreateReplyUnderMissingPost(t *testing.T) {
	f := newForumFixture()

	_, err := f.svc.CreateReply(context.Background(), "nope", "hi", studentClaims("student-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestForumServiceCreateReplyCarriesPostID(t *testing.T) {
	f := newForumFixture()
	post, err := f.svc.CreatePost(context.Background(), "class-1", "parent", studentClaims("student-1"))
	require.NoError(t, err)

	updated, err := f.svc.CreateReply(context.Background(), post.ID, "child", studentClaims("student-2"))
	require.NoError(t, err)
	require.Len(t, updated.Replies, 1)
	assert.Equal(t, "child", updated.Replies[0].Content)

	require.Len(t, f.publisher.events, 2)
	replyEvent := f.publisher.events[1]
	assert.Equal(t, classsync.RelationReply, replyEvent.Relation)
	assert.Equal(t, post.ID, replyEvent.PostID)
}

func TestForumServiceFeedCachesAndInvalidates(t *testing.T) {
	f := newForumFixture()
	_, err := f.svc.CreatePost(context.Background(), "class-1", "first", studentClaims("student-1"))
	require.NoError(t, err)

	feed, err := f.svc.Feed(context.Background(), "class-1", studentClaims("student-1"))
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Contains(t, f.cacheRepo.entries, feedCacheKey("class-1"))

	// The next mutation drops the cached feed.
	err = f.svc.DeletePost(context.Background(), feed[0].ID, studentClaims("student-1"))
	require.NoError(t, err)
	assert.NotContains(t, f.cacheRepo.entries, feedCacheKey("class-1"))
}

func TestForumServiceFeedServedFromCache(t *testing.T) {
	f := newForumFixture()
	_, err := f.svc.CreatePost(context.Background(), "class-1", "cached", studentClaims("student-1"))
	require.NoError(t, err)

	first, err := f.svc.Feed(context.Background(), "class-1", studentClaims("student-1"))
	require.NoError(t, err)

	// Mutate storage behind the cache's back: the stale feed is served
	// until an invalidating mutation goes through the service.
	delete(f.repo.posts, first[0].ID)
	second, err := f.svc.Feed(context.Background(), "class-1", studentClaims("student-1"))
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestForumServiceDeletePostModeration(t *testing.T) {
	f := newForumFixture()
	post, err := f.svc.CreatePost(context.Background(), "class-1", "trouble", studentClaims("student-1"))
	require.NoError(t, err)

	// Another student cannot delete it.
	err = f.svc.DeletePost(context.Background(), post.ID, studentClaims("student-2"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	// The class owner can.
	err = f.svc.DeletePost(context.Background(), post.ID, teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{post.ID}, f.repo.deleted)
}

func TestForumServiceDeleteReplyByAuthor(t *testing.T) {
	f := newForumFixture()
	post, err := f.svc.CreatePost(context.Background(), "class-1", "parent", studentClaims("student-1"))
	require.NoError(t, err)
	updated, err := f.svc.CreateReply(context.Background(), post.ID, "mine", studentClaims("student-2"))
	require.NoError(t, err)

	err = f.svc.DeleteReply(context.Background(), updated.Replies[0].ID, studentClaims("student-2"))
	require.NoError(t, err)

	events := f.publisher.events
	last := events[len(events)-1]
	assert.Equal(t, classsync.EventDelete, last.Type)
	assert.Equal(t, classsync.RelationReply, last.Relation)
	assert.Equal(t, post.ID, last.PostID)
}

func TestForumServiceFeedRequiresMembership(t *testing.T) {
	f := newForumFixture("outsider")

	_, err := f.svc.Feed(context.Background(), "class-1", studentClaims("outsider"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}
