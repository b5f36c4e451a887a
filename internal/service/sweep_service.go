package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// Sweep is one periodic pass over due items. Run returns how many items it
// processed. Sweeps must be safe to run concurrently with themselves on
// another instance: claiming is the implementation's job.
type Sweep struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper drives registered sweeps on a fixed interval. One pass runs the
// sweeps sequentially; a pass taking longer than the interval delays the
// next pass instead of overlapping it.
type Sweeper struct {
	interval time.Duration
	sweeps   []Sweep
	logger   *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper constructs a Sweeper.
func NewSweeper(interval time.Duration, logger *zap.Logger, sweeps ...Sweep) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		interval: interval,
		sweeps:   sweeps,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// RunOnce executes a single pass. Exposed for operational tooling.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, sweep := range s.sweeps {
		processed, err := sweep.Run(ctx)
		if err != nil {
			s.logger.Error("sweep failed", zap.String("sweep", sweep.Name), zap.Error(err))
			continue
		}
		if processed > 0 {
			s.logger.Info("sweep processed items",
				zap.String("sweep", sweep.Name), zap.Int("count", processed))
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

type lateMarker interface {
	MarkLateDue(ctx context.Context, now time.Time, limit int) ([]models.LateTarget, error)
}

// NewLateSweep builds the sweep that flips overdue PENDING targets to LATE
// and notifies the affected students. The flip is guarded in SQL, so each
// target is marked late at most once across repeated and concurrent runs.
func NewLateSweep(marker lateMarker, notifications notificationWriter, batchSize int, logger *zap.Logger) Sweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Sweep{
		Name: "assignment-late",
		Run: func(ctx context.Context) (int, error) {
			late, err := marker.MarkLateDue(ctx, time.Now(), batchSize)
			if err != nil {
				return 0, err
			}
			if len(late) == 0 {
				return 0, nil
			}

			notifyList := make([]models.Notification, 0, len(late))
			for _, target := range late {
				link := fmt.Sprintf("/assignments/%s", target.AssignmentID)
				notifyList = append(notifyList, models.Notification{
					UserID:  target.StudentID,
					Type:    models.NotificationTypeLate,
					Message: fmt.Sprintf("The deadline for %q has passed", target.Title),
					Link:    &link,
				})
			}
			if err := notifications.CreateBatch(ctx, notifyList); err != nil {
				logger.Warn("failed to notify late targets", zap.Error(err))
			}
			return len(late), nil
		},
	}
}

type reminderDispatcher interface {
	DispatchDue(ctx context.Context, batchSize int) (int, error)
}

// NewReminderSweep builds the sweep that delivers due reminders.
func NewReminderSweep(dispatcher reminderDispatcher, batchSize int) Sweep {
	return Sweep{
		Name: "reminder-dispatch",
		Run: func(ctx context.Context) (int, error) {
			return dispatcher.DispatchDue(ctx, batchSize)
		},
	}
}

type exportCleaner interface {
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// NewExportCleanupSweep builds the sweep that removes generated export
// files past their retention window. A signed download link for a
// removed file resolves to not found.
func NewExportCleanupSweep(store exportCleaner, retention time.Duration) Sweep {
	return Sweep{
		Name: "export-cleanup",
		Run: func(ctx context.Context) (int, error) {
			deleted, err := store.CleanupOlderThan(retention)
			return len(deleted), err
		},
	}
}
