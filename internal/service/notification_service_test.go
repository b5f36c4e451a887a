package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type mockNotificationRepo struct {
	notifications map[string]*models.Notification
}

func newMockNotificationRepo(notifications ...*models.Notification) *mockNotificationRepo {
	m := &mockNotificationRepo{notifications: map[string]*models.Notification{}}
	for _, n := range notifications {
		m.notifications[n.ID] = n
	}
	return m
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string, unreadOnly bool, page, size int) ([]models.Notification, int, error) {
	var out []models.Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, *n)
	}
	return out, len(out), nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID || n.ReadAt != nil {
		return false, nil
	}
	n.ReadAt = &at
	return true, nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	for _, notification := range m.notifications {
		if notification.UserID == userID && notification.ReadAt == nil {
			notification.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (m *mockNotificationRepo) Exists(ctx context.Context, id, userID string) (bool, error) {
	n, ok := m.notifications[id]
	return ok && n.UserID == userID, nil
}

func TestNotificationServiceMarkReadIdempotent(t *testing.T) {
	repo := newMockNotificationRepo(&models.Notification{ID: "n1", UserID: "student-1", Type: models.NotificationTypeReminder})
	svc := NewNotificationService(repo, zap.NewNop())

	require.NoError(t, svc.MarkRead(context.Background(), "n1", "student-1"))
	first := *repo.notifications["n1"].ReadAt

	// Marking again succeeds and keeps the original timestamp.
	require.NoError(t, svc.MarkRead(context.Background(), "n1", "student-1"))
	assert.Equal(t, first, *repo.notifications["n1"].ReadAt)
}

func TestNotificationServiceMarkReadForeign(t *testing.T) {
	repo := newMockNotificationRepo(&models.Notification{ID: "n1", UserID: "student-1"})
	svc := NewNotificationService(repo, zap.NewNop())

	err := svc.MarkRead(context.Background(), "n1", "student-2")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestNotificationServiceUnreadCountAndMarkAll(t *testing.T) {
	repo := newMockNotificationRepo(
		&models.Notification{ID: "n1", UserID: "student-1"},
		&models.Notification{ID: "n2", UserID: "student-1"},
		&models.Notification{ID: "n3", UserID: "student-2"},
	)
	svc := NewNotificationService(repo, zap.NewNop())

	count, err := svc.UnreadCount(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	updated, err := svc.MarkAllRead(context.Background(), "student-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	count, err = svc.UnreadCount(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The other student's feed is untouched.
	count, err = svc.UnreadCount(context.Background(), "student-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNotificationServiceListUnreadOnly(t *testing.T) {
	read := time.Now()
	repo := newMockNotificationRepo(
		&models.Notification{ID: "n1", UserID: "student-1", ReadAt: &read},
		&models.Notification{ID: "n2", UserID: "student-1"},
	)
	svc := NewNotificationService(repo, zap.NewNop())

	notifications, total, err := svc.List(context.Background(), "student-1", true, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, notifications, 1)
	assert.Equal(t, "n2", notifications[0].ID)
}
