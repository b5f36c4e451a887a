package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type notificationRepository interface {
	ListByUser(ctx context.Context, userID string, unreadOnly bool, page, size int) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Exists(ctx context.Context, id, userID string) (bool, error)
}

// NotificationService exposes the in-app notification feed. Notifications
// are created by server-side flows; the only client mutation is marking
// them read.
type NotificationService struct {
	repo   notificationRepository
	logger *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(repo notificationRepository, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, logger: logger}
}

// List returns the actor's notifications newest first.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, page, size int) ([]models.Notification, int, error) {
	notifications, total, err := s.repo.ListByUser(ctx, userID, unreadOnly, page, size)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, total, nil
}

// UnreadCount returns the badge count.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead records the read timestamp once. Marking an already-read
// notification succeeds without moving the original timestamp.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	changed, err := s.repo.MarkRead(ctx, id, userID, time.Now())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if changed {
		return nil
	}
	// Not changed: either already read (fine) or not the actor's
	// notification (not found).
	exists, err := s.repo.Exists(ctx, id, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check notification")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

// MarkAllRead flips every unread notification of the actor.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, time.Now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return n, nil
}
