package classsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// SessionState tracks the subscription lifecycle of one mounted view.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateSubscribing
	StateActive
	StateClosed
)

// SessionConfig identifies the mounted view: which class, on behalf of
// which member. All three fields are required before a subscription opens.
type SessionConfig struct {
	ClassID string
	UserID  string
	Role    models.UserRole
}

// Update is the normalized message a session hands to its notifier after a
// change event has been merged. Clients receive sanitized entities only.
type Update struct {
	Relation Relation              `json:"relation"`
	Type     EventType             `json:"type"`
	Post     *models.Post          `json:"post,omitempty"`
	PostID   string                `json:"post_id,omitempty"`
	ReplyID  string                `json:"reply_id,omitempty"`
	Roster   []models.RosterMember `json:"roster,omitempty"`
}

// Notifier receives merged updates for fan-out to the view's transport.
type Notifier func(classID string, update Update)

// Session owns the live view of one class for one mounted client: the
// store, the push-channel subscription, and the inbox goroutine that
// merges change events in arrival order. Exactly one teardown happens per
// session regardless of how Close is reached.
type Session struct {
	id      string
	cfg     SessionConfig
	gateway Gateway
	sub     Subscriber
	store   *Store
	notify  Notifier
	logger  *zap.Logger

	mu        sync.Mutex
	state     SessionState
	degraded  bool
	cancelSub func()

	// runCtx spans the session's own lifetime, independent of whatever
	// bounded ctx the caller used to open it. Close cancels it.
	runCtx    context.Context
	runCancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession builds an unstarted session.
func NewSession(cfg SessionConfig, gateway Gateway, sub Subscriber, notify Notifier, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func(string, Update) {}
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		gateway:   gateway,
		sub:       sub,
		store:     NewStore(),
		notify:    notify,
		logger:    logger,
		runCtx:    runCtx,
		runCancel: runCancel,
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Store exposes the session's synchronized view for snapshot reads.
func (s *Session) Store() *Store { return s.store }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Degraded reports whether the session is serving without a live
// subscription (the initial load stays displayed, nothing refreshes).
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Start performs the initial load and opens the push-channel subscription.
// ctx bounds the load only; once Start returns, the session runs on its
// own lifetime until Close, so callers are free to cancel their ctx.
//
// The load is fail-closed: if either the roster or the post fetch fails,
// the store is revoked and an error returned so the caller tears the view
// down instead of showing partial data. A subscribe failure after a
// successful load is not fatal: the session degrades to the last loaded
// state and a remount re-establishes the feed.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.ClassID == "" || s.cfg.UserID == "" || s.cfg.Role == "" {
		return fmt.Errorf("session: class id, user id and role are required")
	}

	if err := s.load(ctx); err != nil {
		s.store.Revoke()
		return fmt.Errorf("session: initial load: %w", err)
	}

	s.mu.Lock()
	s.state = StateSubscribing
	s.mu.Unlock()

	if s.sub == nil {
		s.mu.Lock()
		s.degraded = true
		s.state = StateActive
		s.mu.Unlock()
		return nil
	}

	inbox, cancel, err := s.sub.Subscribe(s.runCtx, s.cfg.ClassID)
	if err != nil {
		s.logger.Warn("class subscription failed, serving stale view",
			zap.String("class_id", s.cfg.ClassID), zap.Error(err))
		s.mu.Lock()
		s.degraded = true
		s.state = StateActive
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.cancelSub = cancel
	s.state = StateActive
	s.mu.Unlock()

	go s.run(inbox)
	return nil
}

// Close tears the subscription down. Safe to call multiple times; the
// teardown itself runs exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		cancel := s.cancelSub
		s.cancelSub = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.runCancel()
		close(s.done)
	})
}

// load fetches roster and posts in parallel and populates the store.
func (s *Session) load(ctx context.Context) error {
	var (
		wg        sync.WaitGroup
		roster    []models.RosterMember
		rawPosts  []RawPost
		rosterErr error
		postsErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		roster, rosterErr = s.gateway.FetchRoster(ctx, s.cfg.ClassID)
	}()
	go func() {
		defer wg.Done()
		rawPosts, postsErr = s.gateway.FetchPosts(ctx, s.cfg.ClassID)
	}()
	wg.Wait()

	if rosterErr != nil {
		return rosterErr
	}
	if postsErr != nil {
		return postsErr
	}

	posts := make([]models.Post, 0, len(rawPosts))
	for _, raw := range rawPosts {
		posts = append(posts, SanitizePost(raw))
	}
	s.store.Grant(roster, posts)
	return nil
}

func (s *Session) run(inbox <-chan Event) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-inbox:
			if !ok {
				return
			}
			s.route(s.runCtx, event)
		}
	}
}

// route applies one change event to the store according to the per-relation
// routing table. Merges are idempotent keyed upserts, so the order in which
// a local optimistic patch and its remote-origin notification arrive cannot
// change the final state.
func (s *Session) route(ctx context.Context, event Event) {
	switch event.Relation {
	case RelationRoster:
		s.reloadRoster(ctx)
	case RelationPost:
		s.routePost(ctx, event)
	case RelationReply:
		s.routeReply(ctx, event)
	}
}

func (s *Session) reloadRoster(ctx context.Context) {
	roster, err := s.gateway.FetchRoster(ctx, s.cfg.ClassID)
	if err != nil {
		s.logger.Warn("roster reload failed, keeping stale roster",
			zap.String("class_id", s.cfg.ClassID), zap.Error(err))
		return
	}
	s.store.SetRoster(roster)
	s.notify(s.cfg.ClassID, Update{Relation: RelationRoster, Type: EventUpdate, Roster: roster})
}

func (s *Session) routePost(ctx context.Context, event Event) {
	switch event.Type {
	case EventInsert, EventUpdate:
		raw, err := s.gateway.FetchPost(ctx, event.EntityID)
		if err != nil {
			// The post may already be gone again; the delete event will follow.
			s.logger.Debug("post aggregate fetch failed",
				zap.String("post_id", event.EntityID), zap.Error(err))
			return
		}
		post := SanitizePost(*raw)
		if event.Type == EventInsert {
			s.store.ApplyInsert(post)
		} else {
			if !s.store.HasPost(post.ID) {
				return
			}
			s.store.ApplyUpdate(post)
		}
		s.notify(s.cfg.ClassID, Update{Relation: RelationPost, Type: event.Type, Post: &post})
	case EventDelete:
		s.store.ApplyDelete(event.EntityID)
		s.notify(s.cfg.ClassID, Update{Relation: RelationPost, Type: EventDelete, PostID: event.EntityID})
	}
}

func (s *Session) routeReply(ctx context.Context, event Event) {
	parentID := event.PostID
	switch event.Type {
	case EventInsert, EventUpdate:
		if parentID == "" || !s.store.HasPost(parentID) {
			// Parent unknown locally: the notification raced ahead of the
			// initial load. Dropped; the next full load picks it up.
			return
		}
		s.reconcileParent(ctx, parentID, event)
	case EventDelete:
		if parentID != "" && s.store.HasPost(parentID) {
			s.reconcileParent(ctx, parentID, event)
			return
		}
		s.store.RemoveReply(event.EntityID)
		s.notify(s.cfg.ClassID, Update{Relation: RelationReply, Type: EventDelete, ReplyID: event.EntityID})
	}
}

func (s *Session) reconcileParent(ctx context.Context, postID string, event Event) {
	raw, err := s.gateway.FetchPost(ctx, postID)
	if err != nil {
		if event.Type == EventDelete {
			s.store.RemoveReply(event.EntityID)
			s.notify(s.cfg.ClassID, Update{Relation: RelationReply, Type: EventDelete, ReplyID: event.EntityID})
		}
		return
	}
	post := SanitizePost(*raw)
	s.store.ReconcileAggregate(post)
	s.notify(s.cfg.ClassID, Update{Relation: RelationReply, Type: event.Type, Post: &post, PostID: postID})
}

// Manager constructs sessions over a shared gateway and subscriber and
// tracks them for shutdown. Each mounted view gets its own session; the
// manager guarantees every open session is closed once at teardown.
type Manager struct {
	gateway Gateway
	sub     Subscriber
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a session manager.
func NewManager(gateway Gateway, sub Subscriber, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		gateway:  gateway,
		sub:      sub,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session for the given view. On load failure no session is
// retained and the error propagates so the caller can fail closed.
func (m *Manager) Open(ctx context.Context, cfg SessionConfig, notify Notifier) (*Session, error) {
	session := NewSession(cfg, m.gateway, m.sub, notify, m.logger)
	if err := session.Start(ctx); err != nil {
		session.Close()
		return nil, err
	}
	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()
	return session, nil
}

// Release closes a session and forgets it.
func (m *Manager) Release(session *Session) {
	if session == nil {
		return
	}
	m.mu.Lock()
	delete(m.sessions, session.ID())
	m.mu.Unlock()
	session.Close()
}

// CloseAll tears down every live session. Used at server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
