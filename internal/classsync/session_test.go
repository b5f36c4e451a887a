package classsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

type fakeGateway struct {
	mu        sync.Mutex
	roster    []models.RosterMember
	rosterErr error
	posts     []RawPost
	postsErr  error
	postByID  map[string]RawPost
	fetchErr  error
}

func (g *fakeGateway) FetchRoster(ctx context.Context, classID string) ([]models.RosterMember, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roster, g.rosterErr
}

func (g *fakeGateway) FetchPosts(ctx context.Context, classID string) ([]RawPost, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.posts, g.postsErr
}

func (g *fakeGateway) FetchPost(ctx context.Context, postID string) (*RawPost, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	raw, ok := g.postByID[postID]
	if !ok {
		return nil, errors.New("post not found")
	}
	return &raw, nil
}

func (g *fakeGateway) setPost(raw RawPost) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.postByID == nil {
		g.postByID = make(map[string]RawPost)
	}
	g.postByID[raw.ID] = raw
}

type fakeSubscriber struct {
	mu      sync.Mutex
	events  chan Event
	err     error
	cancels int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{events: make(chan Event, 16)}
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, classID string) (<-chan Event, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.events, func() {
		s.mu.Lock()
		s.cancels++
		s.mu.Unlock()
	}, nil
}

func (s *fakeSubscriber) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) notify(classID string, update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *updateRecorder) waitFor(t *testing.T, n int) []Update {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.updates) >= n {
			out := append([]Update(nil), r.updates...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d updates", n)
	return nil
}

func rawForumPost(id string, createdAt time.Time) RawPost {
	return RawPost{
		ID:       id,
		ClassID:  "c1",
		AuthorID: "u1",
		Author:   AuthorJoin{Author: &models.Author{ID: "u1", DisplayName: "Ana"}},
		Content:  "content " + id,
		CreatedAt: createdAt,
	}
}

func testSessionConfig() SessionConfig {
	return SessionConfig{ClassID: "c1", UserID: "u1", Role: models.RoleStudent}
}

func TestSessionStartLoadsAndSubscribes(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{
		roster: []models.RosterMember{{StudentName: "Ana"}},
		posts:  []RawPost{rawForumPost("p2", base.Add(time.Minute)), rawForumPost("p1", base)},
	}
	sub := newFakeSubscriber()

	session := NewSession(testSessionConfig(), gateway, sub, nil, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	assert.Equal(t, StateActive, session.State())
	assert.False(t, session.Degraded())
	assert.True(t, session.Store().Ready())

	posts := session.Store().Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "p1", posts[0].ID)
	assert.Equal(t, "p2", posts[1].ID)
}

func TestSessionStartFailsClosedOnLoadError(t *testing.T) {
	gateway := &fakeGateway{postsErr: errors.New("db down")}
	sub := newFakeSubscriber()

	session := NewSession(testSessionConfig(), gateway, sub, nil, nil)
	err := session.Start(context.Background())

	require.Error(t, err)
	assert.False(t, session.Store().Ready())
	assert.Empty(t, session.Store().Posts())
}

func TestSessionStartRequiresIdentity(t *testing.T) {
	session := NewSession(SessionConfig{ClassID: "c1"}, &fakeGateway{}, newFakeSubscriber(), nil, nil)
	assert.Error(t, session.Start(context.Background()))
}

func TestSessionDegradesOnSubscribeFailure(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{posts: []RawPost{rawForumPost("p1", base)}}
	sub := newFakeSubscriber()
	sub.err = errors.New("redis unavailable")

	session := NewSession(testSessionConfig(), gateway, sub, nil, nil)
	require.NoError(t, session.Start(context.Background()), "subscribe failure is not fatal")
	defer session.Close()

	assert.True(t, session.Degraded())
	assert.Equal(t, StateActive, session.State())
	// The loaded snapshot stays readable.
	assert.Len(t, session.Store().Posts(), 1)
}

func TestSessionRoutesPostInsert(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}

	session := NewSession(testSessionConfig(), gateway, sub, rec.notify, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	gateway.setPost(rawForumPost("p1", base))
	sub.events <- Event{Type: EventInsert, Relation: RelationPost, ClassID: "c1", EntityID: "p1"}

	updates := rec.waitFor(t, 1)
	assert.Equal(t, RelationPost, updates[0].Relation)
	assert.Equal(t, EventInsert, updates[0].Type)
	require.NotNil(t, updates[0].Post)
	assert.Equal(t, "p1", updates[0].Post.ID)
	assert.True(t, session.Store().HasPost("p1"))
}

func TestSessionDropsUpdateForUnknownPost(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}

	session := NewSession(testSessionConfig(), gateway, sub, rec.notify, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	gateway.setPost(rawForumPost("ghost", base))
	sub.events <- Event{Type: EventUpdate, Relation: RelationPost, ClassID: "c1", EntityID: "ghost"}
	// A follow-up insert proves the update was processed and dropped.
	gateway.setPost(rawForumPost("p1", base))
	sub.events <- Event{Type: EventInsert, Relation: RelationPost, ClassID: "c1", EntityID: "p1"}

	rec.waitFor(t, 1)
	posts := session.Store().Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)
}

func TestSessionRoutesPostDelete(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{posts: []RawPost{rawForumPost("p1", base)}}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}

	session := NewSession(testSessionConfig(), gateway, sub, rec.notify, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	sub.events <- Event{Type: EventDelete, Relation: RelationPost, ClassID: "c1", EntityID: "p1"}

	updates := rec.waitFor(t, 1)
	assert.Equal(t, EventDelete, updates[0].Type)
	assert.Equal(t, "p1", updates[0].PostID)
	assert.False(t, session.Store().HasPost("p1"))
}

func TestSessionReconcilesReplyInsert(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{posts: []RawPost{rawForumPost("p1", base)}}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}

	session := NewSession(testSessionConfig(), gateway, sub, rec.notify, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	withReply := rawForumPost("p1", base)
	withReply.Replies = []RawReply{{
		ID: "r1", PostID: "p1", AuthorID: "u2",
		Author:    AuthorJoin{Author: &models.Author{ID: "u2", DisplayName: "Marc"}},
		CreatedAt: base.Add(time.Minute),
	}}
	gateway.setPost(withReply)
	sub.events <- Event{Type: EventInsert, Relation: RelationReply, ClassID: "c1", EntityID: "r1", PostID: "p1"}

	rec.waitFor(t, 1)
	posts := session.Store().Posts()
	require.Len(t, posts, 1)
	require.Len(t, posts[0].Replies, 1)
	assert.Equal(t, "r1", posts[0].Replies[0].ID)
}

func TestSessionIgnoresReplyForUnknownParent(t *testing.T) {
	gateway := &fakeGateway{}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}

	session := NewSession(testSessionConfig(), gateway, sub, rec.notify, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	sub.events <- Event{Type: EventInsert, Relation: RelationReply, ClassID: "c1", EntityID: "r1", PostID: "ghost"}
	// Processed marker event.
	sub.events <- Event{Type: EventDelete, Relation: RelationPost, ClassID: "c1", EntityID: "none"}

	rec.waitFor(t, 1)
	assert.Empty(t, session.Store().Posts())
}

func TestSessionReplyDeleteFallsBackWhenFetchFails(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	withReply := rawForumPost("p1", base)
	withReply.Replies = []RawReply{{ID: "r1", PostID: "p1", AuthorID: "u2", CreatedAt: base.Add(time.Minute)}}
	gateway := &fakeGateway{posts: []RawPost{withReply}}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}

	session := NewSession(testSessionConfig(), gateway, sub, rec.notify, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	gateway.mu.Lock()
	gateway.fetchErr = errors.New("db down")
	gateway.mu.Unlock()
	sub.events <- Event{Type: EventDelete, Relation: RelationReply, ClassID: "c1", EntityID: "r1", PostID: "p1"}

	updates := rec.waitFor(t, 1)
	assert.Equal(t, "r1", updates[0].ReplyID)
	require.Len(t, session.Store().Posts(), 1)
	assert.Empty(t, session.Store().Posts()[0].Replies)
}

func TestSessionRoutesRosterChange(t *testing.T) {
	gateway := &fakeGateway{}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}

	session := NewSession(testSessionConfig(), gateway, sub, rec.notify, nil)
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	gateway.mu.Lock()
	gateway.roster = []models.RosterMember{{StudentName: "Ana"}, {StudentName: "Marc"}}
	gateway.mu.Unlock()
	sub.events <- Event{Type: EventInsert, Relation: RelationRoster, ClassID: "c1"}

	updates := rec.waitFor(t, 1)
	assert.Equal(t, RelationRoster, updates[0].Relation)
	assert.Len(t, updates[0].Roster, 2)
	assert.Len(t, session.Store().Roster(), 2)
}

func TestSessionOutlivesOpenContext(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{}
	sub := newFakeSubscriber()
	rec := &updateRecorder{}
	manager := NewManager(gateway, sub, nil)

	// Callers open sessions under a bounded request context and cancel it
	// as soon as the join returns. That must not tear the session down.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	session, err := manager.Open(ctx, testSessionConfig(), rec.notify)
	require.NoError(t, err)
	cancel()
	defer session.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateActive, session.State())

	gateway.setPost(rawForumPost("p1", base))
	sub.events <- Event{Type: EventInsert, Relation: RelationPost, ClassID: "c1", EntityID: "p1"}

	rec.waitFor(t, 1)
	assert.True(t, session.Store().HasPost("p1"))
}

func TestSessionCloseTearsDownOnce(t *testing.T) {
	gateway := &fakeGateway{}
	sub := newFakeSubscriber()

	session := NewSession(testSessionConfig(), gateway, sub, nil, nil)
	require.NoError(t, session.Start(context.Background()))

	session.Close()
	session.Close()
	session.Close()

	assert.Equal(t, 1, sub.cancelCount())
	assert.Equal(t, StateClosed, session.State())
}

func TestManagerOpenAndCloseAll(t *testing.T) {
	gateway := &fakeGateway{}
	sub := newFakeSubscriber()
	manager := NewManager(gateway, sub, nil)

	s1, err := manager.Open(context.Background(), testSessionConfig(), nil)
	require.NoError(t, err)
	s2, err := manager.Open(context.Background(), SessionConfig{ClassID: "c1", UserID: "u2", Role: models.RoleTeacher}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID(), s2.ID())

	manager.CloseAll()
	assert.Equal(t, StateClosed, s1.State())
	assert.Equal(t, StateClosed, s2.State())
}

func TestManagerOpenPropagatesLoadFailure(t *testing.T) {
	gateway := &fakeGateway{rosterErr: errors.New("db down")}
	manager := NewManager(gateway, newFakeSubscriber(), nil)

	session, err := manager.Open(context.Background(), testSessionConfig(), nil)
	assert.Error(t, err)
	assert.Nil(t, session)
}
