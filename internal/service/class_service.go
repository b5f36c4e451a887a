package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/classsync"
	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type classRepository interface {
	Create(ctx context.Context, class *models.ClassRoom) error
	FindByID(ctx context.Context, id string) (*models.ClassDetail, error)
	FindByJoinCode(ctx context.Context, code string) (*models.ClassRoom, error)
	ExistsByJoinCode(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error)
	Delete(ctx context.Context, id string) error
}

type rosterRepository interface {
	Join(ctx context.Context, classID, studentID string) (bool, error)
	Remove(ctx context.Context, classID, studentID string) error
	IsMember(ctx context.Context, classID, studentID string) (bool, error)
	ListMembers(ctx context.Context, classID string) ([]models.RosterMember, error)
}

// Entitlements gates paid teacher features.
type Entitlements interface {
	Entitled(ctx context.Context, userID string) (bool, error)
}

// CreateClassRequest is the payload for creating a class.
type CreateClassRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

const joinCodeLength = 6
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ClassService manages classes and their rosters.
type ClassService struct {
	classes      classRepository
	roster       rosterRepository
	entitlements Entitlements
	publisher    classsync.Publisher
	logger       *zap.Logger
}

// NewClassService constructs a ClassService.
func NewClassService(classes classRepository, roster rosterRepository, entitlements Entitlements, publisher classsync.Publisher, logger *zap.Logger) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{classes: classes, roster: roster, entitlements: entitlements, publisher: publisher, logger: logger}
}

// Create opens a new class for a teacher with a fresh join code. Creating
// classes is a paid feature.
func (s *ClassService) Create(ctx context.Context, teacherID, name string) (*models.ClassDetail, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class name must be at least 2 characters")
	}

	entitled, err := s.entitlements.Entitled(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}
	if !entitled {
		return nil, appErrors.Clone(appErrors.ErrPlanRequired, "")
	}

	code, err := s.uniqueJoinCode(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate join code")
	}

	class := &models.ClassRoom{Name: name, JoinCode: code, OwnerID: teacherID}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	return s.classes.FindByID(ctx, class.ID)
}

// Get returns a class detail, restricted to the owner and roster members.
func (s *ClassService) Get(ctx context.Context, classID string, actor models.JWTClaims) (*models.ClassDetail, error) {
	detail, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := s.authorizeView(ctx, detail, actor); err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns the classes visible to the actor: owned for teachers,
// joined for students.
func (s *ClassService) List(ctx context.Context, actor models.JWTClaims, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	switch actor.Role {
	case models.RoleTeacher:
		filter.OwnerID = actor.UserID
		filter.StudentID = ""
	case models.RoleStudent:
		filter.StudentID = actor.UserID
		filter.OwnerID = ""
	case models.RoleAdmin:
		// Admins see everything.
	default:
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	classes, total, err := s.classes.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, total, nil
}

// NormalizeJoinCode canonicalizes user-entered join codes: surrounding
// whitespace is stripped and the code is uppercased, so "  abc123 " and
// "ABC123" resolve to the same class.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// JoinByCode enrolls a student into the class matching the code. Joining a
// class the student already belongs to succeeds without a second roster
// entry. An unknown code is a not-found, indistinguishable from a deleted
// class.
func (s *ClassService) JoinByCode(ctx context.Context, studentID, code string) (*models.ClassDetail, error) {
	code = NormalizeJoinCode(code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "join code is required")
	}

	class, err := s.classes.FindByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidJoinCode, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve join code")
	}

	joined, err := s.roster.Join(ctx, class.ID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join class")
	}
	if joined {
		s.publishRosterChange(ctx, classsync.EventInsert, class.ID, studentID)
	}
	return s.classes.FindByID(ctx, class.ID)
}

// RemoveStudent takes a student off the roster. Owner only.
func (s *ClassService) RemoveStudent(ctx context.Context, classID, studentID string, actor models.JWTClaims) error {
	detail, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID != actor.UserID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the class owner can remove students")
	}

	if err := s.roster.Remove(ctx, classID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student is not on the roster")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student")
	}
	s.publishRosterChange(ctx, classsync.EventDelete, classID, studentID)
	return nil
}

// Leave lets a student exit a class on their own.
func (s *ClassService) Leave(ctx context.Context, classID, studentID string) error {
	if err := s.roster.Remove(ctx, classID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "not a member of this class")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave class")
	}
	s.publishRosterChange(ctx, classsync.EventDelete, classID, studentID)
	return nil
}

// Delete removes a class and everything under it. Owner only.
func (s *ClassService) Delete(ctx context.Context, classID string, actor models.JWTClaims) error {
	detail, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if detail.OwnerID != actor.UserID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the class owner can delete the class")
	}
	if err := s.classes.Delete(ctx, classID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	return nil
}

// Roster returns the member list, restricted to the owner and members.
func (s *ClassService) Roster(ctx context.Context, classID string, actor models.JWTClaims) ([]models.RosterMember, error) {
	detail, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if err := s.authorizeView(ctx, detail, actor); err != nil {
		return nil, err
	}
	members, err := s.roster.ListMembers(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return members, nil
}

// AuthorizeMembership checks that the actor may open a live view on the
// class: the owner, an admin, or a roster member.
func (s *ClassService) AuthorizeMembership(ctx context.Context, classID string, actor models.JWTClaims) error {
	detail, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return s.authorizeView(ctx, detail, actor)
}

func (s *ClassService) authorizeView(ctx context.Context, detail *models.ClassDetail, actor models.JWTClaims) error {
	if actor.Role == models.RoleAdmin || detail.OwnerID == actor.UserID {
		return nil
	}
	member, err := s.roster.IsMember(ctx, detail.ID, actor.UserID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	if !member {
		return appErrors.Clone(appErrors.ErrForbidden, "not a member of this class")
	}
	return nil
}

func (s *ClassService) publishRosterChange(ctx context.Context, eventType classsync.EventType, classID, studentID string) {
	if s.publisher == nil {
		return
	}
	event := classsync.Event{Type: eventType, Relation: classsync.RelationRoster, ClassID: classID, EntityID: studentID}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish roster change", zap.String("class_id", classID), zap.Error(err))
	}
}

func (s *ClassService) uniqueJoinCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomJoinCode()
		if err != nil {
			return "", err
		}
		taken, err := s.classes.ExistsByJoinCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("join code space exhausted after retries")
}

func randomJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, joinCodeLength)
	for i, b := range buf {
		code[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(code), nil
}
