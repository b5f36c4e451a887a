package classsync

import (
	"context"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// Gateway is the read side of the class data contract: the bulk fetches a
// session needs for its initial load and the single-aggregate fetch the
// routing table relies on.
type Gateway interface {
	FetchRoster(ctx context.Context, classID string) ([]models.RosterMember, error)
	FetchPosts(ctx context.Context, classID string) ([]RawPost, error)
	FetchPost(ctx context.Context, postID string) (*RawPost, error)
}

// Subscriber opens a push channel for one class. The returned cancel
// function must be safe to call exactly once; the channel closes after
// cancellation.
type Subscriber interface {
	Subscribe(ctx context.Context, classID string) (<-chan Event, func(), error)
}

// Publisher emits a change event onto a class feed. Mutation paths publish
// after the write commits; delivery is best effort (a missed event leaves
// subscribers stale until their next reconcile, never corrupt).
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
