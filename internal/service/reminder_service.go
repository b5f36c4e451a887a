package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/mail"
)

type reminderRepository interface {
	CreateBatch(ctx context.Context, reminders []models.Reminder) error
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Reminder, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
}

type reminderAssignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListTargets(ctx context.Context, assignmentID string) ([]models.AssignmentTargetDetail, error)
}

// ScheduleReminderRequest schedules one extra reminder for an assignment.
// The teacher picks a relative offset; the absolute run time is computed
// here from the due date at schedule time, so an already-stored reminder
// never shifts afterwards.
type ScheduleReminderRequest struct {
	AssignmentID string                 `json:"assignment_id" validate:"required"`
	Offset       string                 `json:"offset" validate:"required,oneof=15m 1h 1d 3d"`
	Channel      models.ReminderChannel `json:"channel" validate:"required,oneof=EMAIL APP BOTH"`
	StudentID    *string                `json:"student_id,omitempty"`
}

// scheduleOffsets are the lead times before the due date a reminder can
// be scheduled at.
var scheduleOffsets = map[string]time.Duration{
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
}

// ReminderService schedules reminders and delivers the ones that come due.
type ReminderService struct {
	reminders     reminderRepository
	assignments   reminderAssignmentReader
	classes       classOwnership
	notifications notificationWriter
	mailer        mail.Mailer
	logger        *zap.Logger
}

// NewReminderService constructs a ReminderService.
func NewReminderService(reminders reminderRepository, assignments reminderAssignmentReader, classes classOwnership, notifications notificationWriter, mailer mail.Mailer, logger *zap.Logger) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderService{
		reminders:     reminders,
		assignments:   assignments,
		classes:       classes,
		notifications: notifications,
		mailer:        mailer,
		logger:        logger,
	}
}

// Schedule adds a custom reminder. Class owner only; the computed run
// time must still be in the future.
func (s *ReminderService) Schedule(ctx context.Context, req ScheduleReminderRequest, actor models.JWTClaims) (*models.Reminder, error) {
	assignment, err := s.assignments.FindByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	detail, err := s.classes.FindByID(ctx, assignment.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class owner can schedule reminders")
	}

	offset, ok := scheduleOffsets[req.Offset]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "offset must be one of 15m, 1h, 1d, 3d")
	}
	runAt := assignment.DueAt.Add(-offset)
	if !runAt.After(time.Now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reminder would run in the past")
	}

	reminder := models.Reminder{
		AssignmentID: req.AssignmentID,
		StudentID:    req.StudentID,
		RunAt:        runAt,
		Channel:      req.Channel,
		CreatedBy:    actor.UserID,
	}
	if err := s.reminders.CreateBatch(ctx, []models.Reminder{reminder}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule reminder")
	}
	return &reminder, nil
}

// DispatchDue claims due reminders and delivers them. The claim flips the
// sent flag in the same statement that selects, so a reminder is handed to
// exactly one dispatch even with overlapping sweeps. Delivery targets only
// students whose assignment is still PENDING; the others are done already.
func (s *ReminderService) DispatchDue(ctx context.Context, batchSize int) (int, error) {
	claimed, err := s.reminders.ClaimDue(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, reminder := range claimed {
		if err := s.deliver(ctx, reminder); err != nil {
			// The claim already consumed the reminder; log and move on
			// rather than redelivering the whole batch.
			s.logger.Error("failed to deliver reminder",
				zap.String("reminder_id", reminder.ID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (s *ReminderService) deliver(ctx context.Context, reminder models.Reminder) error {
	assignment, err := s.assignments.FindByID(ctx, reminder.AssignmentID)
	if err != nil {
		return fmt.Errorf("load assignment: %w", err)
	}

	targets, err := s.assignments.ListTargets(ctx, reminder.AssignmentID)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	link := fmt.Sprintf("/assignments/%s", assignment.ID)
	message := fmt.Sprintf("Reminder: %q is due %s", assignment.Title, assignment.DueAt.Format("Jan 2 15:04"))

	for _, target := range targets {
		if target.Status != models.TargetStatusPending {
			continue
		}
		if reminder.StudentID != nil && *reminder.StudentID != target.StudentID {
			continue
		}

		if reminder.Channel == models.ReminderChannelApp || reminder.Channel == models.ReminderChannelBoth {
			if err := s.notifications.Create(ctx, &models.Notification{
				UserID:  target.StudentID,
				Type:    models.NotificationTypeReminder,
				Message: message,
				Link:    &link,
			}); err != nil {
				s.logger.Warn("failed to create reminder notification",
					zap.String("student_id", target.StudentID), zap.Error(err))
			}
		}

		if reminder.Channel == models.ReminderChannelEmail || reminder.Channel == models.ReminderChannelBoth {
			if s.mailer == nil {
				continue
			}
			if err := s.mailer.Send(ctx, mail.Message{
				ToName:    target.StudentName,
				ToAddress: target.StudentEmail,
				Subject:   fmt.Sprintf("Reminder: %s", assignment.Title),
				PlainBody: message,
			}); err != nil {
				s.logger.Warn("failed to send reminder email",
					zap.String("student_id", target.StudentID), zap.Error(err))
			}
		}
	}
	return nil
}
