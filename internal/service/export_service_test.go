package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type mockExportStore struct {
	saved map[string][]byte
}

func (m *mockExportStore) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockExportStore) Open(filename string) (*os.File, error) {
	if _, ok := m.saved[filename]; !ok {
		return nil, os.ErrNotExist
	}
	return os.CreateTemp("", "export-test-*")
}

type mockSigner struct {
	tokens map[string]string
}

func (m *mockSigner) Generate(resourceID, relPath string) (string, time.Time, error) {
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	token := "tok-" + resourceID
	m.tokens[token] = relPath
	return token, time.Now().Add(time.Hour), nil
}

func (m *mockSigner) Parse(token string, allowExpired bool) (string, string, time.Time, error) {
	relPath, ok := m.tokens[token]
	if !ok {
		return "", "", time.Time{}, errors.New("bad token")
	}
	return "", relPath, time.Now().Add(time.Hour), nil
}

type mockExportAssignments struct {
	assignment *models.Assignment
	targets    []models.AssignmentTargetDetail
}

func (m *mockExportAssignments) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	return m.assignment, nil
}

func (m *mockExportAssignments) ListTargets(ctx context.Context, assignmentID string) ([]models.AssignmentTargetDetail, error) {
	return m.targets, nil
}

func newExportFixture() (*ExportService, *mockExportStore, *mockSigner) {
	classes := newMockClassRepo(&models.ClassDetail{ClassRoom: models.ClassRoom{ID: "class-1", Name: "Spanish B2", JoinCode: "QRS789", OwnerID: "teacher-1"}})
	roster := newMockRosterRepo()
	roster.members["class-1"] = map[string]bool{"student-1": true}
	assignments := &mockExportAssignments{
		assignment: &models.Assignment{ID: "assignment-1", ClassID: "class-1", Title: "Essay"},
		targets: []models.AssignmentTargetDetail{
			targetDetail("student-1", "s1@example.com", models.TargetStatusSubmitted),
		},
	}
	store := &mockExportStore{}
	signer := &mockSigner{}
	svc := NewExportService(classes, roster, assignments, store, signer, zap.NewNop())
	return svc, store, signer
}

func TestParseExportFormat(t *testing.T) {
	format, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatCSV, format)

	format, err = ParseExportFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatPDF, format)

	_, err = ParseExportFormat("xlsx")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestExportServiceRosterCSV(t *testing.T) {
	svc, store, _ := newExportFixture()

	result, err := svc.ExportRoster(context.Background(), "teacher-1", models.RoleTeacher, "class-1", ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, ExportFormatCSV, result.Format)
	assert.NotEmpty(t, result.Token)
	assert.True(t, strings.HasSuffix(result.Filename, ".csv"))

	raw, ok := store.saved[result.Filename]
	require.True(t, ok)
	assert.Contains(t, string(raw), "Student,Email,Target Level,Joined")
}

func TestExportServiceRosterForbidden(t *testing.T) {
	svc, _, _ := newExportFixture()

	_, err := svc.ExportRoster(context.Background(), "teacher-2", models.RoleTeacher, "class-1", ExportFormatCSV)
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestExportServiceAssignmentResultsPDF(t *testing.T) {
	svc, store, _ := newExportFixture()

	result, err := svc.ExportAssignmentResults(context.Background(), "teacher-1", models.RoleTeacher, "assignment-1", ExportFormatPDF)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.Filename, ".pdf"))

	raw := store.saved[result.Filename]
	require.NotEmpty(t, raw)
	assert.True(t, strings.HasPrefix(string(raw), "%PDF"))
}

func TestExportServiceDownloadBadToken(t *testing.T) {
	svc, _, _ := newExportFixture()

	_, _, err := svc.Download("forged")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestExportServiceDownloadRoundTrip(t *testing.T) {
	svc, _, _ := newExportFixture()

	result, err := svc.ExportRoster(context.Background(), "teacher-1", models.RoleTeacher, "class-1", ExportFormatCSV)
	require.NoError(t, err)

	file, name, err := svc.Download(result.Token)
	require.NoError(t, err)
	defer func() {
		file.Close()
		os.Remove(file.Name())
	}()
	assert.Equal(t, result.Filename, name)
}
