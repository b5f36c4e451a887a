package classsync

import (
	"sort"
	"sync"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// Store holds the synchronized in-memory view of one class: the roster and
// the forum feed. Mutations arrive from the session's inbox goroutine while
// snapshot reads come from websocket writers, so access is guarded.
//
// Two invariants hold after every operation: the feed never contains two
// posts with the same id (merges are keyed upserts, not appends), and the
// feed is sorted ascending by CreatedAt.
type Store struct {
	mu            sync.RWMutex
	posts         []models.Post
	roster        []models.RosterMember
	ready         bool
	accessGranted bool
}

// NewStore returns an empty store with access not yet granted.
func NewStore() *Store {
	return &Store{}
}

// Grant marks the initial load as complete and readable.
func (s *Store) Grant(roster []models.RosterMember, posts []models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = append([]models.RosterMember(nil), roster...)
	s.posts = append([]models.Post(nil), posts...)
	sortPosts(s.posts)
	s.ready = true
	s.accessGranted = true
}

// Revoke tears the view down. Any load failure fail-closes rather than
// leaving partial state readable.
func (s *Store) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = nil
	s.roster = nil
	s.ready = false
	s.accessGranted = false
}

// Ready reports whether the initial load completed and access is granted.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready && s.accessGranted
}

// SetRoster replaces the roster wholesale (roster change events re-run the
// full roster load; the roster is small, so this is the simplest correct
// policy).
func (s *Store) SetRoster(roster []models.RosterMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = append([]models.RosterMember(nil), roster...)
}

// Roster returns a copy of the current roster.
func (s *Store) Roster() []models.RosterMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RosterMember(nil), s.roster...)
}

// Posts returns a copy of the current feed in display order.
func (s *Store) Posts() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Post, len(s.posts))
	copy(out, s.posts)
	return out
}

// HasPost reports whether the given post id is currently in the feed.
func (s *Store) HasPost(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(id) >= 0
}

// ApplyInsert upserts a post by id. If an entry with the same id already
// exists (the local optimistic copy racing with the push notification for
// the same mutation) it is replaced, never duplicated. The sort invariant
// is re-established on every insert.
func (s *Store) ApplyInsert(post models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(post.ID); idx >= 0 {
		s.posts[idx] = post
	} else {
		s.posts = append(s.posts, post)
	}
	sortPosts(s.posts)
}

// ApplyUpdate replaces an existing post. An update for an id that is not
// present (the notification raced ahead of the initial load) is dropped;
// the next full load picks it up.
func (s *Store) ApplyUpdate(post models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(post.ID)
	if idx < 0 {
		return
	}
	s.posts[idx] = post
	sortPosts(s.posts)
}

// ApplyDelete removes a post by id together with all replies nested under
// it. Unknown ids are a no-op.
func (s *Store) ApplyDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return
	}
	s.posts = append(s.posts[:idx], s.posts[idx+1:]...)
}

// ReconcileAggregate replaces one post wholesale with a freshly fetched
// aggregate. Used after mutations whose resulting shape is easier to
// re-fetch than patch locally (reply creation needs the author join). If
// the post is not present the reconcile is ignored.
func (s *Store) ReconcileAggregate(post models.Post) {
	s.ApplyUpdate(post)
}

// RemoveReply filters the given reply id out of every post. Fallback path
// for reply deletions whose parent aggregate could not be re-fetched.
func (s *Store) RemoveReply(replyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.posts {
		replies := s.posts[i].Replies
		for j, r := range replies {
			if r.ID == replyID {
				s.posts[i].Replies = append(replies[:j], replies[j+1:]...)
				return
			}
		}
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.posts {
		if s.posts[i].ID == id {
			return i
		}
	}
	return -1
}

func sortPosts(posts []models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].CreatedAt.Before(posts[j].CreatedAt)
	})
}

func sortReplies(replies []models.Reply) {
	sort.SliceStable(replies, func(i, j int) bool {
		if replies[i].CreatedAt.Equal(replies[j].CreatedAt) {
			return replies[i].ID < replies[j].ID
		}
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})
}
