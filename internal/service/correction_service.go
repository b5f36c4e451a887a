package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/jobs"
)

type correctionRepository interface {
	SetResult(ctx context.Context, submissionID string, payload json.RawMessage) error
	SetFailed(ctx context.Context, submissionID string) error
	FindBySubmission(ctx context.Context, submissionID string) (*models.Correction, error)
	Review(ctx context.Context, submissionID, teacherID, feedback string) error
}

type correctionSubmissionReader interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
}

type correctionAssignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

// CorrectionConfig configures the AI correction webhook client.
type CorrectionConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// CorrectionService calls the external AI correction webhook and stores
// whatever it returns, byte for byte. The payload is opaque to this
// service; only its delivery state is modeled.
type CorrectionService struct {
	corrections   correctionRepository
	submissions   correctionSubmissionReader
	assignments   correctionAssignmentReader
	classes       classOwnership
	notifications notificationWriter
	httpClient    *http.Client
	config        CorrectionConfig
	logger        *zap.Logger
}

// NewCorrectionService constructs a CorrectionService.
func NewCorrectionService(corrections correctionRepository, submissions correctionSubmissionReader, assignments correctionAssignmentReader, classes classOwnership, notifications notificationWriter, config CorrectionConfig, logger *zap.Logger) *CorrectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CorrectionService{
		corrections:   corrections,
		submissions:   submissions,
		assignments:   assignments,
		classes:       classes,
		notifications: notifications,
		httpClient:    &http.Client{Timeout: timeout},
		config:        config,
		logger:        logger,
	}
}

// HandleJob is the queue handler for correction jobs. Returning an error
// makes the queue retry; a terminal failure is recorded on the correction
// row by the last attempt.
func (s *CorrectionService) HandleJob(ctx context.Context, job jobs.Job) error {
	var payload CorrectionJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode correction job: %w", err)
	}
	return s.Process(ctx, payload.SubmissionID)
}

// Process runs the correction round trip for one submission.
func (s *CorrectionService) Process(ctx context.Context, submissionID string) error {
	submission, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("load submission %s: %w", submissionID, err)
	}

	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil {
		return fmt.Errorf("load assignment %s: %w", submission.AssignmentID, err)
	}

	result, err := s.callWebhook(ctx, submission, assignment)
	if err != nil {
		s.logger.Error("correction webhook failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return err
	}

	if err := s.corrections.SetResult(ctx, submissionID, result); err != nil {
		return fmt.Errorf("store correction result: %w", err)
	}

	link := fmt.Sprintf("/submissions/%s", submissionID)
	if err := s.notifications.Create(ctx, &models.Notification{
		UserID:  submission.StudentID,
		Type:    models.NotificationTypeCorrection,
		Message: fmt.Sprintf("Your essay %q has been corrected", strings.TrimSuffix(submission.FileName, ".txt")),
		Link:    &link,
	}); err != nil {
		s.logger.Warn("failed to notify correction ready", zap.Error(err))
	}
	return nil
}

// MarkFailed records a terminal correction failure. Called by the queue
// after retries are exhausted.
func (s *CorrectionService) MarkFailed(ctx context.Context, job jobs.Job) {
	var payload CorrectionJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return
	}
	if err := s.corrections.SetFailed(ctx, payload.SubmissionID); err != nil {
		s.logger.Error("failed to mark correction failed",
			zap.String("submission_id", payload.SubmissionID), zap.Error(err))
	}
}

// Review layers teacher feedback on a finished correction. Class owner
// only, and only once a result exists.
func (s *CorrectionService) Review(ctx context.Context, submissionID, feedback string, actor models.JWTClaims) (*models.Correction, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "feedback is required")
	}

	submission, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	detail, err := s.classes.FindByID(ctx, assignment.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class owner can review corrections")
	}

	if err := s.corrections.Review(ctx, submissionID, actor.UserID, feedback); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "correction has no result to review yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store review")
	}

	link := fmt.Sprintf("/submissions/%s", submissionID)
	if err := s.notifications.Create(ctx, &models.Notification{
		UserID:  submission.StudentID,
		Type:    models.NotificationTypeCorrection,
		Message: "Your teacher reviewed your correction",
		Link:    &link,
	}); err != nil {
		s.logger.Warn("failed to notify review", zap.Error(err))
	}

	correction, err := s.corrections.FindBySubmission(ctx, submissionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload correction")
	}
	return correction, nil
}

// correctionRequest is the request body sent to the webhook.
type correctionRequest struct {
	SubmissionID string `json:"submission_id"`
	Text         string `json:"text"`
	Level        string `json:"level"`
	Prompt       string `json:"prompt"`
	WordCount    int    `json:"word_count"`
}

func (s *CorrectionService) callWebhook(ctx context.Context, submission *models.Submission, assignment *models.Assignment) (json.RawMessage, error) {
	body, err := json.Marshal(correctionRequest{
		SubmissionID: submission.ID,
		Text:         submission.Text,
		Level:        assignment.Level,
		Prompt:       assignment.Prompt,
		WordCount:    submission.WordCount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal correction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build correction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call correction webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read correction response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("correction webhook returned %d", resp.StatusCode)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("correction webhook returned invalid json")
	}
	// Stored verbatim: the response shape belongs to the correction
	// provider, not to us.
	return json.RawMessage(raw), nil
}
