package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/export"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ParseExportFormat normalizes a format query parameter, defaulting to CSV.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return ExportFormatCSV, nil
	case "pdf":
		return ExportFormatPDF, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

type exportClassReader interface {
	FindByID(ctx context.Context, id string) (*models.ClassDetail, error)
}

type exportRosterReader interface {
	ListMembers(ctx context.Context, classID string) ([]models.RosterMember, error)
}

type exportAssignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListTargets(ctx context.Context, assignmentID string) ([]models.AssignmentTargetDetail, error)
}

type exportFileStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type exportSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (resourceID, relPath string, expiresAt time.Time, err error)
}

// ExportResult points at a freshly rendered file. The token is a signed
// download reference so the file can be fetched without a session.
type ExportResult struct {
	Filename  string       `json:"filename"`
	Format    ExportFormat `json:"format"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// ExportService renders roster and assignment-result files for teachers.
// Files land on local disk and are handed out through signed URLs.
type ExportService struct {
	classes     exportClassReader
	roster      exportRosterReader
	assignments exportAssignmentReader
	store       exportFileStore
	signer      exportSigner
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	logger      *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(
	classes exportClassReader,
	roster exportRosterReader,
	assignments exportAssignmentReader,
	store exportFileStore,
	signer exportSigner,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		classes:     classes,
		roster:      roster,
		assignments: assignments,
		store:       store,
		signer:      signer,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
	}
}

// ExportRoster renders the class roster. Only the class owner or an admin
// may export it.
func (s *ExportService) ExportRoster(ctx context.Context, actorID string, role models.UserRole, classID string, format ExportFormat) (*ExportResult, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if role != models.RoleAdmin && class.OwnerID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class owner can export the roster")
	}

	members, err := s.roster.ListMembers(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	data := export.Dataset{
		Headers: []string{"Student", "Email", "Target Level", "Joined"},
		Rows:    make([]map[string]string, 0, len(members)),
	}
	for _, m := range members {
		level := ""
		if m.TargetLevel != nil {
			level = *m.TargetLevel
		}
		data.Rows = append(data.Rows, map[string]string{
			"Student":      m.StudentName,
			"Email":        m.StudentEmail,
			"Target Level": level,
			"Joined":       m.JoinedAt.UTC().Format(time.RFC3339),
		})
	}

	title := fmt.Sprintf("Roster - %s", class.Name)
	return s.render(classID, "roster", title, data, format)
}

// ExportAssignmentResults renders the per-student outcome of one
// assignment. Only the class owner or an admin may export it.
func (s *ExportService) ExportAssignmentResults(ctx context.Context, actorID string, role models.UserRole, assignmentID string, format ExportFormat) (*ExportResult, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	class, err := s.classes.FindByID(ctx, assignment.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if role != models.RoleAdmin && class.OwnerID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class owner can export results")
	}

	targets, err := s.assignments.ListTargets(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment targets")
	}

	data := export.Dataset{
		Headers: []string{"Student", "Email", "Status", "Submitted At"},
		Rows:    make([]map[string]string, 0, len(targets)),
	}
	for _, t := range targets {
		submitted := ""
		if t.SubmittedAt != nil {
			submitted = t.SubmittedAt.UTC().Format(time.RFC3339)
		}
		data.Rows = append(data.Rows, map[string]string{
			"Student":      t.StudentName,
			"Email":        t.StudentEmail,
			"Status":       string(t.Status),
			"Submitted At": submitted,
		})
	}

	title := fmt.Sprintf("Results - %s", assignment.Title)
	return s.render(assignmentID, "results", title, data, format)
}

// Download exchanges a signed token for the stored file. The caller owns
// closing the returned handle.
func (s *ExportService) Download(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file no longer exists")
	}
	return file, relPath, nil
}

func (s *ExportService) render(resourceID, kind, title string, data export.Dataset, format ExportFormat) (*ExportResult, error) {
	var (
		payload []byte
		err     error
	)
	switch format {
	case ExportFormatPDF:
		payload, err = s.pdf.Render(data, title)
	default:
		payload, err = s.csv.Render(data)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := fmt.Sprintf("%s/%s-%d.%s", resourceID, kind, time.Now().Unix(), format)
	if _, err := s.store.Save(filename, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(resourceID, filename)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}

	s.logger.Info("rendered export",
		zap.String("resource_id", resourceID),
		zap.String("kind", kind),
		zap.String("format", string(format)),
		zap.Int("rows", len(data.Rows)))

	return &ExportResult{
		Filename:  filename,
		Format:    format,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
