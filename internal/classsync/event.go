package classsync

import "encoding/json"

// Relation names the underlying collection a change event touches.
type Relation string

const (
	RelationRoster Relation = "roster"
	RelationPost   Relation = "post"
	RelationReply  Relation = "reply"
)

// EventType is the kind of mutation a change event announces.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one discrete change notification on a class feed. Events are
// published by the mutation path after a successful write and consumed by
// every live session on the class, including the one belonging to the
// client that caused the mutation; merges must therefore be idempotent.
type Event struct {
	Type     EventType       `json:"type"`
	Relation Relation        `json:"relation"`
	ClassID  string          `json:"class_id"`
	EntityID string          `json:"entity_id"`
	PostID   string          `json:"post_id,omitempty"`
	Row      json.RawMessage `json:"row,omitempty"`
}

// Valid reports whether the event carries enough to be routed.
func (e Event) Valid() bool {
	if e.ClassID == "" {
		return false
	}
	switch e.Relation {
	case RelationRoster:
		return true
	case RelationPost, RelationReply:
		return e.EntityID != ""
	default:
		return false
	}
}
