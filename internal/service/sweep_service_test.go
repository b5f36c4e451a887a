package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

type mockLateMarker struct {
	late  []models.LateTarget
	err   error
	calls int
}

func (m *mockLateMarker) MarkLateDue(ctx context.Context, now time.Time, limit int) ([]models.LateTarget, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	late := m.late
	m.late = nil
	return late, nil
}

func TestLateSweepNotifiesFlippedTargets(t *testing.T) {
	marker := &mockLateMarker{late: []models.LateTarget{
		{TargetID: "target-1", AssignmentID: "assignment-1", StudentID: "student-1", Title: "Essay", ClassID: "class-1"},
		{TargetID: "target-2", AssignmentID: "assignment-1", StudentID: "student-2", Title: "Essay", ClassID: "class-1"},
	}}
	notifications := &mockNotificationWriter{}
	sweep := NewLateSweep(marker, notifications, 100, zap.NewNop())

	processed, err := sweep.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	require.Len(t, notifications.created, 2)
	for _, n := range notifications.created {
		assert.Equal(t, models.NotificationTypeLate, n.Type)
		require.NotNil(t, n.Link)
		assert.Equal(t, "/assignments/assignment-1", *n.Link)
	}

	// The guarded flip means the next pass finds nothing.
	processed, err = sweep.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Len(t, notifications.created, 2)
}

func TestLateSweepPropagatesMarkerError(t *testing.T) {
	marker := &mockLateMarker{err: errors.New("db down")}
	sweep := NewLateSweep(marker, &mockNotificationWriter{}, 100, zap.NewNop())

	_, err := sweep.Run(context.Background())
	require.Error(t, err)
}

type mockExportCleaner struct {
	deleted []string
	ttl     time.Duration
	err     error
}

func (m *mockExportCleaner) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	m.ttl = ttl
	return m.deleted, m.err
}

func TestExportCleanupSweepReportsDeletedCount(t *testing.T) {
	cleaner := &mockExportCleaner{deleted: []string{"roster-a.csv", "results-b.pdf"}}
	sweep := NewExportCleanupSweep(cleaner, 7*24*time.Hour)

	processed, err := sweep.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 7*24*time.Hour, cleaner.ttl)
}

func TestExportCleanupSweepPropagatesError(t *testing.T) {
	sweep := NewExportCleanupSweep(&mockExportCleaner{err: errors.New("disk gone")}, time.Hour)

	_, err := sweep.Run(context.Background())
	require.Error(t, err)
}

func TestSweeperRunOnceRunsAllSweeps(t *testing.T) {
	var ran []string
	record := func(name string) Sweep {
		return Sweep{Name: name, Run: func(ctx context.Context) (int, error) {
			ran = append(ran, name)
			return 1, nil
		}}
	}
	failing := Sweep{Name: "broken", Run: func(ctx context.Context) (int, error) {
		ran = append(ran, "broken")
		return 0, errors.New("boom")
	}}

	sweeper := NewSweeper(time.Minute, zap.NewNop(), record("first"), failing, record("second"))
	sweeper.RunOnce(context.Background())

	// A failing sweep does not stop the pass.
	assert.Equal(t, []string{"first", "broken", "second"}, ran)
}

func TestSweeperStartStop(t *testing.T) {
	done := make(chan struct{}, 16)
	sweep := Sweep{Name: "tick", Run: func(ctx context.Context) (int, error) {
		select {
		case done <- struct{}{}:
		default:
		}
		return 0, nil
	}}

	sweeper := NewSweeper(5*time.Millisecond, zap.NewNop(), sweep)
	sweeper.Start(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}
	sweeper.Stop()
}
