package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type assignmentRepository interface {
	CreateWithTargets(ctx context.Context, assignment *models.Assignment, studentIDs []string) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	ListTargets(ctx context.Context, assignmentID string) ([]models.AssignmentTargetDetail, error)
	FindTarget(ctx context.Context, assignmentID, studentID string) (*models.AssignmentTarget, error)
}

type notificationWriter interface {
	Create(ctx context.Context, n *models.Notification) error
	CreateBatch(ctx context.Context, notifications []models.Notification) error
}

type reminderWriter interface {
	CreateBatch(ctx context.Context, reminders []models.Reminder) error
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Reminder, error)
}

// PublishAssignmentRequest is the payload for publishing an assignment.
type PublishAssignmentRequest struct {
	ClassID string    `json:"class_id" validate:"required"`
	Title   string    `json:"title" validate:"required,min=2,max=200"`
	Prompt  string    `json:"prompt" validate:"required"`
	Level   string    `json:"level" validate:"required,oneof=A1 A2 B1 B2 C1 C2"`
	DueAt   time.Time `json:"due_at" validate:"required"`
}

// defaultReminderOffsets are subtracted from the due date at publication
// time; offsets landing in the past are skipped.
var defaultReminderOffsets = []time.Duration{
	15 * time.Minute,
	time.Hour,
	24 * time.Hour,
	72 * time.Hour,
}

// AssignmentService publishes assignments and tracks per-student targets.
type AssignmentService struct {
	assignments   assignmentRepository
	classes       classOwnership
	roster        rosterRepository
	notifications notificationWriter
	reminders     reminderWriter
	entitlements  Entitlements
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewAssignmentService constructs an AssignmentService.
func NewAssignmentService(assignments assignmentRepository, classes classOwnership, roster rosterRepository, notifications notificationWriter, reminders reminderWriter, entitlements Entitlements, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssignmentService{
		assignments:   assignments,
		classes:       classes,
		roster:        roster,
		notifications: notifications,
		reminders:     reminders,
		entitlements:  entitlements,
		validator:     validate,
		logger:        logger,
	}
}

// Publish creates an assignment with one PENDING target per current roster
// member. The target list is a snapshot: students joining the class later
// are not retroactively targeted. Each targeted student gets a
// notification, and default reminders are scheduled against the due date.
func (s *AssignmentService) Publish(ctx context.Context, req PublishAssignmentRequest, actor models.JWTClaims) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if !req.DueAt.After(time.Now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "due date must be in the future")
	}

	detail, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class owner can publish assignments")
	}

	entitled, err := s.entitlements.Entitled(ctx, detail.OwnerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}
	if !entitled {
		return nil, appErrors.Clone(appErrors.ErrPlanRequired, "")
	}

	members, err := s.roster.ListMembers(ctx, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if len(members) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "the class roster is empty")
	}

	studentIDs := make([]string, 0, len(members))
	for _, m := range members {
		studentIDs = append(studentIDs, m.StudentID)
	}

	assignment := &models.Assignment{
		ClassID:   req.ClassID,
		Title:     req.Title,
		Prompt:    req.Prompt,
		Level:     req.Level,
		DueAt:     req.DueAt,
		CreatedBy: actor.UserID,
	}
	if err := s.assignments.CreateWithTargets(ctx, assignment, studentIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish assignment")
	}

	s.notifyTargets(ctx, assignment, studentIDs)
	s.scheduleDefaultReminders(ctx, assignment, actor.UserID)
	return assignment, nil
}

// Get returns an assignment, visible to the class owner and its targets.
func (s *AssignmentService) Get(ctx context.Context, assignmentID string, actor models.JWTClaims) (*models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if err := s.authorizeAssignment(ctx, assignment, actor); err != nil {
		return nil, err
	}
	return assignment, nil
}

// List returns assignments scoped to the actor: published ones for the
// teacher's class, targeted ones for a student.
func (s *AssignmentService) List(ctx context.Context, filter models.AssignmentFilter, actor models.JWTClaims) ([]models.Assignment, int, error) {
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleTeacher:
		if filter.ClassID == "" {
			return nil, 0, appErrors.Clone(appErrors.ErrValidation, "class_id is required")
		}
		detail, err := s.classes.FindByID(ctx, filter.ClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "class not found")
			}
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
		}
		if detail.OwnerID != actor.UserID {
			return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "")
		}
	case models.RoleAdmin:
		// Unscoped.
	default:
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	assignments, total, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return assignments, total, nil
}

// Targets returns the per-student status board. Class owner only.
func (s *AssignmentService) Targets(ctx context.Context, assignmentID string, actor models.JWTClaims) ([]models.AssignmentTargetDetail, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
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
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class owner can view targets")
	}

	targets, err := s.assignments.ListTargets(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list targets")
	}
	return targets, nil
}

// Reminders returns the reminder schedule of an assignment. Owner only.
func (s *AssignmentService) Reminders(ctx context.Context, assignmentID string, actor models.JWTClaims) ([]models.Reminder, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
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
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	reminders, err := s.reminders.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reminders")
	}
	return reminders, nil
}

func (s *AssignmentService) authorizeAssignment(ctx context.Context, assignment *models.Assignment, actor models.JWTClaims) error {
	if actor.Role == models.RoleAdmin || assignment.CreatedBy == actor.UserID {
		return nil
	}
	if actor.Role == models.RoleStudent {
		if _, err := s.assignments.FindTarget(ctx, assignment.ID, actor.UserID); err == nil {
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check target")
		}
	}
	detail, err := s.classes.FindByID(ctx, assignment.ClassID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID == actor.UserID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "")
}

func (s *AssignmentService) notifyTargets(ctx context.Context, assignment *models.Assignment, studentIDs []string) {
	link := fmt.Sprintf("/assignments/%s", assignment.ID)
	notifications := make([]models.Notification, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		notifications = append(notifications, models.Notification{
			UserID:  studentID,
			Type:    models.NotificationTypeAssignment,
			Message: fmt.Sprintf("New assignment: %s (due %s)", assignment.Title, assignment.DueAt.Format("Jan 2 15:04")),
			Link:    &link,
		})
	}
	if err := s.notifications.CreateBatch(ctx, notifications); err != nil {
		s.logger.Warn("failed to notify assignment targets", zap.String("assignment_id", assignment.ID), zap.Error(err))
	}
}

func (s *AssignmentService) scheduleDefaultReminders(ctx context.Context, assignment *models.Assignment, createdBy string) {
	now := time.Now()
	var reminders []models.Reminder
	for _, offset := range defaultReminderOffsets {
		runAt := assignment.DueAt.Add(-offset)
		if !runAt.After(now) {
			continue
		}
		reminders = append(reminders, models.Reminder{
			AssignmentID: assignment.ID,
			RunAt:        runAt,
			Channel:      models.ReminderChannelBoth,
			CreatedBy:    createdBy,
		})
	}
	if err := s.reminders.CreateBatch(ctx, reminders); err != nil {
		s.logger.Warn("failed to schedule default reminders", zap.String("assignment_id", assignment.ID), zap.Error(err))
	}
}
