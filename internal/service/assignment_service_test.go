package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type mockAssignmentRepo struct {
	assignments map[string]*models.Assignment
	targets     map[string]map[string]*models.AssignmentTarget
	createErr   error
}

func newMockAssignmentRepo() *mockAssignmentRepo {
	return &mockAssignmentRepo{
		assignments: map[string]*models.Assignment{},
		targets:     map[string]map[string]*models.AssignmentTarget{},
	}
}

func (m *mockAssignmentRepo) CreateWithTargets(ctx context.Context, assignment *models.Assignment, studentIDs []string) error {
	if m.createErr != nil {
		return m.createErr
	}
	if assignment.ID == "" {
		assignment.ID = "assignment-new"
	}
	m.assignments[assignment.ID] = assignment
	m.targets[assignment.ID] = map[string]*models.AssignmentTarget{}
	for _, studentID := range studentIDs {
		m.targets[assignment.ID][studentID] = &models.AssignmentTarget{
			AssignmentID: assignment.ID,
			StudentID:    studentID,
			Status:       models.TargetStatusPending,
		}
	}
	return nil
}

func (m *mockAssignmentRepo) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func (m *mockAssignmentRepo) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	var out []models.Assignment
	for _, a := range m.assignments {
		if filter.ClassID != "" && a.ClassID != filter.ClassID {
			continue
		}
		if filter.StudentID != "" {
			if _, ok := m.targets[a.ID][filter.StudentID]; !ok {
				continue
			}
		}
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (m *mockAssignmentRepo) ListTargets(ctx context.Context, assignmentID string) ([]models.AssignmentTargetDetail, error) {
	var out []models.AssignmentTargetDetail
	for _, target := range m.targets[assignmentID] {
		out = append(out, models.AssignmentTargetDetail{AssignmentTarget: *target})
	}
	return out, nil
}

func (m *mockAssignmentRepo) FindTarget(ctx context.Context, assignmentID, studentID string) (*models.AssignmentTarget, error) {
	t, ok := m.targets[assignmentID][studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

type mockNotificationWriter struct {
	created []models.Notification
	batchN  int
}

func (m *mockNotificationWriter) Create(ctx context.Context, n *models.Notification) error {
	m.created = append(m.created, *n)
	return nil
}

func (m *mockNotificationWriter) CreateBatch(ctx context.Context, notifications []models.Notification) error {
	m.created = append(m.created, notifications...)
	m.batchN++
	return nil
}

type mockReminderWriter struct {
	reminders []models.Reminder
}

func (m *mockReminderWriter) CreateBatch(ctx context.Context, reminders []models.Reminder) error {
	m.reminders = append(m.reminders, reminders...)
	return nil
}

func (m *mockReminderWriter) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Reminder, error) {
	var out []models.Reminder
	for _, r := range m.reminders {
		if r.AssignmentID == assignmentID {
			out = append(out, r)
		}
	}
	return out, nil
}

type assignmentFixture struct {
	svc           *AssignmentService
	assignments   *mockAssignmentRepo
	classes       *mockClassRepo
	roster        *mockRosterRepo
	notifications *mockNotificationWriter
	reminders     *mockReminderWriter
}

func newAssignmentFixture(entitled bool) *assignmentFixture {
	f := &assignmentFixture{
		assignments:   newMockAssignmentRepo(),
		classes:       newMockClassRepo(&models.ClassDetail{ClassRoom: models.ClassRoom{ID: "class-1", JoinCode: "CDE345", OwnerID: "teacher-1"}}),
		roster:        newMockRosterRepo(),
		notifications: &mockNotificationWriter{},
		reminders:     &mockReminderWriter{},
	}
	f.roster.members["class-1"] = map[string]bool{"student-1": true, "student-2": true}
	f.svc = NewAssignmentService(f.assignments, f.classes, f.roster, f.notifications, f.reminders, staticEntitlements{entitled: entitled}, validator.New(), zap.NewNop())
	return f
}

func publishRequest(dueAt time.Time) PublishAssignmentRequest {
	return PublishAssignmentRequest{
		ClassID: "class-1",
		Title:   "Describe your hometown",
		Prompt:  "Write 300 words about the place you grew up.",
		Level:   "B1",
		DueAt:   dueAt,
	}
}

func TestAssignmentServicePublishSnapshotsRoster(t *testing.T) {
	f := newAssignmentFixture(true)

	assignment, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(96*time.Hour)), teacherClaims("teacher-1"))
	require.NoError(t, err)
	require.NotEmpty(t, assignment.ID)

	targets := f.assignments.targets[assignment.ID]
	require.Len(t, targets, 2)
	for _, target := range targets {
		assert.Equal(t, models.TargetStatusPending, target.Status)
	}

	// One notification per targeted student, sent in a single batch.
	assert.Len(t, f.notifications.created, 2)
	assert.Equal(t, 1, f.notifications.batchN)
	for _, n := range f.notifications.created {
		assert.Equal(t, models.NotificationTypeAssignment, n.Type)
	}

	// A student joining after publication is not retroactively targeted.
	f.roster.members["class-1"]["student-3"] = true
	_, ok := targets["student-3"]
	assert.False(t, ok)
}

func TestAssignmentServicePublishSchedulesDefaultReminders(t *testing.T) {
	f := newAssignmentFixture(true)
	dueAt := time.Now().Add(96 * time.Hour)

	assignment, err := f.svc.Publish(context.Background(), publishRequest(dueAt), teacherClaims("teacher-1"))
	require.NoError(t, err)

	require.Len(t, f.reminders.reminders, 4)
	for i, r := range f.reminders.reminders {
		assert.Equal(t, assignment.ID, r.AssignmentID)
		assert.Equal(t, models.ReminderChannelBoth, r.Channel)
		assert.WithinDuration(t, dueAt.Add(-defaultReminderOffsets[i]), r.RunAt, time.Second)
	}
}

func TestAssignmentServicePublishSkipsPastReminderOffsets(t *testing.T) {
	f := newAssignmentFixture(true)

	// Due in two hours: the 24h and 72h offsets fall in the past.
	_, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(2*time.Hour)), teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, f.reminders.reminders, 2)
}

func TestAssignmentServicePublishEmptyRoster(t *testing.T) {
	f := newAssignmentFixture(true)
	f.roster.members["class-1"] = nil

	_, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(time.Hour)), teacherClaims("teacher-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestAssignmentServicePublishPastDueDate(t *testing.T) {
	f := newAssignmentFixture(true)

	_, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(-time.Hour)), teacherClaims("teacher-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestAssignmentServicePublishRequiresOwnership(t *testing.T) {
	f := newAssignmentFixture(true)

	_, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(time.Hour)), teacherClaims("teacher-2"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestAssignmentServicePublishRequiresPlan(t *testing.T) {
	f := newAssignmentFixture(false)

	_, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(time.Hour)), teacherClaims("teacher-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrPlanRequired.Code, appErr.Code)
}

func TestAssignmentServiceGetVisibleToTarget(t *testing.T) {
	f := newAssignmentFixture(true)
	assignment, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(time.Hour)), teacherClaims("teacher-1"))
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), assignment.ID, studentClaims("student-1"))
	require.NoError(t, err)
	assert.Equal(t, assignment.ID, got.ID)

	_, err = f.svc.Get(context.Background(), assignment.ID, studentClaims("stranger"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestAssignmentServiceListScopesStudent(t *testing.T) {
	f := newAssignmentFixture(true)
	_, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(time.Hour)), teacherClaims("teacher-1"))
	require.NoError(t, err)

	assignments, total, err := f.svc.List(context.Background(), models.AssignmentFilter{}, studentClaims("student-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, assignments, 1)

	_, total, err = f.svc.List(context.Background(), models.AssignmentFilter{}, studentClaims("stranger"))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAssignmentServiceTargetsOwnerOnly(t *testing.T) {
	f := newAssignmentFixture(true)
	assignment, err := f.svc.Publish(context.Background(), publishRequest(time.Now().Add(time.Hour)), teacherClaims("teacher-1"))
	require.NoError(t, err)

	targets, err := f.svc.Targets(context.Background(), assignment.ID, teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, targets, 2)

	_, err = f.svc.Targets(context.Background(), assignment.ID, studentClaims("student-1"))
	require.Error(t, err)
}
