package classsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFeed carries class change events over Redis pub/sub, one topic per
// class. It implements both ends of the contract: services publish after
// each successful mutation, sessions subscribe per class.
type RedisFeed struct {
	client *redis.Client
	prefix string
	buffer int
	logger *zap.Logger
}

// NewRedisFeed constructs a feed on the given client. prefix namespaces
// the topics (default "class").
func NewRedisFeed(client *redis.Client, prefix string, buffer int, logger *zap.Logger) *RedisFeed {
	if prefix == "" {
		prefix = "class"
	}
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, prefix: prefix, buffer: buffer, logger: logger}
}

// Publish emits one event onto the class topic.
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	if !event.Valid() {
		return fmt.Errorf("publish: invalid event for class %q", event.ClassID)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("publish: encode event: %w", err)
	}
	if err := f.client.Publish(ctx, f.topic(event.ClassID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe opens the class topic and returns a decoded event stream. The
// subscription is only considered established once the server acknowledges
// it; callers treat an error here as a degrade-to-stale condition, not a
// fatal one.
func (f *RedisFeed) Subscribe(ctx context.Context, classID string) (<-chan Event, func(), error) {
	if classID == "" {
		return nil, nil, fmt.Errorf("subscribe: class id required")
	}

	sub := f.client.Subscribe(ctx, f.topic(classID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe class %s: %w", classID, err)
	}

	out := make(chan Event, f.buffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Warn("dropping undecodable change event",
					zap.String("class_id", classID), zap.Error(err))
				continue
			}
			if !event.Valid() {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func (f *RedisFeed) topic(classID string) string {
	return fmt.Sprintf("%s:%s:changes", f.prefix, classID)
}
