package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/jobs"
	"github.com/lexigrade/lexigrade-api/pkg/textextract"
)

type submissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindByTarget(ctx context.Context, assignmentID, studentID string) (*models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error)
}

type submissionTargetRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	FindTarget(ctx context.Context, assignmentID, studentID string) (*models.AssignmentTarget, error)
	MarkSubmitted(ctx context.Context, targetID string, at time.Time) (bool, error)
}

type correctionWriter interface {
	CreatePending(ctx context.Context, submissionID string) (*models.Correction, error)
	FindBySubmission(ctx context.Context, submissionID string) (*models.Correction, error)
}

type uploadStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
}

type correctionEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// JobTypeCorrection names the background job that calls the AI correction
// webhook for a submission.
const JobTypeCorrection = "correction.request"

// CorrectionJobPayload is the encoded payload of a correction job.
type CorrectionJobPayload struct {
	SubmissionID string `json:"submission_id"`
}

// SubmissionService handles essay uploads against assignment targets.
type SubmissionService struct {
	submissions submissionRepository
	assignments submissionTargetRepository
	corrections correctionWriter
	classes     classOwnership
	extractor   textextract.Extractor
	uploads     uploadStore
	queue       correctionEnqueuer
	sizeLimit   int64
	logger      *zap.Logger
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(submissions submissionRepository, assignments submissionTargetRepository, corrections correctionWriter, classes classOwnership, extractor textextract.Extractor, uploads uploadStore, queue correctionEnqueuer, sizeLimit int64, logger *zap.Logger) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{
		submissions: submissions,
		assignments: assignments,
		corrections: corrections,
		classes:     classes,
		extractor:   extractor,
		uploads:     uploads,
		queue:       queue,
		sizeLimit:   sizeLimit,
		logger:      logger,
	}
}

// Submit accepts an essay upload for an assignment target. Text is
// extracted synchronously so malformed files are rejected before anything
// is stored; the AI correction round trip runs in the background. The
// target transition is guarded: once a target is SUBMITTED or LATE it
// never accepts another essay.
func (s *SubmissionService) Submit(ctx context.Context, assignmentID string, actor models.JWTClaims, file io.Reader, filename, contentType string) (*models.Submission, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	target, err := s.assignments.FindTarget(ctx, assignmentID, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not targeted by this assignment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target")
	}
	if target.Status != models.TargetStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("assignment already %s", target.Status))
	}

	result, err := s.extractor.Extract(file, filename, contentType, s.sizeLimit)
	if err != nil {
		switch {
		case errors.Is(err, textextract.ErrUnsupportedFormat):
			return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, "")
		case errors.Is(err, textextract.ErrTooLarge):
			return nil, appErrors.Clone(appErrors.ErrFileTooLarge, "")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "could not read the uploaded file")
		}
	}

	now := time.Now()
	transitioned, err := s.assignments.MarkSubmitted(ctx, target.ID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update target")
	}
	if !transitioned {
		// Lost the race against the late sweep or a concurrent upload.
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "assignment is no longer open for submission")
	}

	submission := &models.Submission{
		AssignmentID: assignment.ID,
		StudentID:    actor.UserID,
		FileName:     filename,
		Text:         result.Text,
		WordCount:    result.WordCount,
		SubmittedAt:  now,
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store submission")
	}

	if s.uploads != nil {
		// The normalized text is the artifact of record; the raw upload is
		// not kept.
		if _, err := s.uploads.SaveStream(submission.ID+".txt", strings.NewReader(result.Text)); err != nil {
			s.logger.Warn("failed to archive submission text", zap.String("submission_id", submission.ID), zap.Error(err))
		}
	}

	if _, err := s.corrections.CreatePending(ctx, submission.ID); err != nil {
		s.logger.Error("failed to create pending correction", zap.String("submission_id", submission.ID), zap.Error(err))
	}

	s.enqueueCorrection(submission.ID)
	return submission, nil
}

// Detail returns a submission with its correction. Visible to the student
// who wrote it and the class owner.
func (s *SubmissionService) Detail(ctx context.Context, submissionID string, actor models.JWTClaims) (*models.SubmissionDetail, error) {
	submission, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	if err := s.authorizeSubmission(ctx, submission, actor); err != nil {
		return nil, err
	}

	detail := &models.SubmissionDetail{Submission: *submission}
	correction, err := s.corrections.FindBySubmission(ctx, submissionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load correction")
	}
	detail.Correction = correction
	return detail, nil
}

// ByTarget returns the submission the acting student made for an
// assignment.
func (s *SubmissionService) ByTarget(ctx context.Context, assignmentID string, actor models.JWTClaims) (*models.SubmissionDetail, error) {
	submission, err := s.submissions.FindByTarget(ctx, assignmentID, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no submission yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	return s.Detail(ctx, submission.ID, actor)
}

// ListByAssignment returns every submission for an assignment. Class owner
// only.
func (s *SubmissionService) ListByAssignment(ctx context.Context, assignmentID string, actor models.JWTClaims) ([]models.Submission, error) {
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

	submissions, err := s.submissions.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	return submissions, nil
}

func (s *SubmissionService) authorizeSubmission(ctx context.Context, submission *models.Submission, actor models.JWTClaims) error {
	if actor.UserID == submission.StudentID || actor.Role == models.RoleAdmin {
		return nil
	}
	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	detail, err := s.classes.FindByID(ctx, assignment.ClassID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}
	return nil
}

func (s *SubmissionService) enqueueCorrection(submissionID string) {
	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(CorrectionJobPayload{SubmissionID: submissionID})
	if err != nil {
		s.logger.Error("marshal correction job", zap.Error(err))
		return
	}
	if err := s.queue.Enqueue(jobs.Job{Type: JobTypeCorrection, Payload: payload}); err != nil {
		s.logger.Error("enqueue correction job", zap.String("submission_id", submissionID), zap.Error(err))
	}
}
