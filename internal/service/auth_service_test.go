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
	"golang.org/x/crypto/bcrypt"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type mockUserRepo struct {
	users            map[string]*models.User
	byEmail          map[string]*models.User
	existsErr        error
	createErr        error
	lastLoginUpdated bool
	updatedPassword  string
	updatedProfile   bool
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: map[string]*models.User{}, byEmail: map[string]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
		m.byEmail[u.Email] = u
	}
	return m
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if user.ID == "" {
		user.ID = "user-new"
	}
	m.users[user.ID] = user
	m.byEmail[user.Email] = user
	return nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.byEmail[email]
	return ok, nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.updatedPassword = passwordHash
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, displayName string, nativeLanguage, targetLevel *string) error {
	m.updatedProfile = true
	if u, ok := m.users[id]; ok {
		u.DisplayName = displayName
		u.NativeLanguage = nativeLanguage
		u.TargetLevel = targetLevel
		u.ProfileComplete = true
	}
	return nil
}

type mockTokenRepo struct {
	tokens     map[string]*models.RefreshToken
	revoked    []string
	revokedAll []string
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{tokens: map[string]*models.RefreshToken{}}
}

func (m *mockTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = "token-" + token.Token[:6]
	}
	m.tokens[token.Token] = token
	return nil
}

func (m *mockTokenRepo) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockTokenRepo) Revoke(ctx context.Context, id string) error {
	m.revoked = append(m.revoked, id)
	for _, rt := range m.tokens {
		if rt.ID == id {
			rt.Revoked = true
		}
	}
	return nil
}

func (m *mockTokenRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	m.revokedAll = append(m.revokedAll, userID)
	return nil
}

type mockAuditRepo struct {
	logs []*models.AuditLog
}

func (m *mockAuditRepo) Create(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func newAuthService(users *mockUserRepo, tokens *mockTokenRepo, audit *mockAuditRepo) *AuthService {
	return NewAuthService(users, tokens, audit, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "lexigrade-api",
	})
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceRegisterSuccess(t *testing.T) {
	users := newMockUserRepo()
	tokens := newMockTokenRepo()
	audit := &mockAuditRepo{}
	svc := newAuthService(users, tokens, audit)

	res, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:       "teacher@example.com",
		Password:    "password123",
		DisplayName: "Teacher One",
		Role:        models.RoleTeacher,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, models.RoleTeacher, res.User.Role)
	assert.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRegister, audit.logs[0].Action)

	stored, ok := users.byEmail["teacher@example.com"]
	require.True(t, ok)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password123")))
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	existing := &models.User{ID: "u1", Email: "taken@example.com"}
	svc := newAuthService(newMockUserRepo(existing), newMockTokenRepo(), &mockAuditRepo{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:       "taken@example.com",
		Password:    "password123",
		DisplayName: "Dup",
		Role:        models.RoleStudent,
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestAuthServiceRegisterRejectsAdminRole(t *testing.T) {
	svc := newAuthService(newMockUserRepo(), newMockTokenRepo(), &mockAuditRepo{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:       "admin@example.com",
		Password:    "password123",
		DisplayName: "Nope",
		Role:        models.RoleAdmin,
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	user := &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "password123"),
		Active:       true,
		Role:         models.RoleStudent,
	}
	users := newMockUserRepo(user)
	svc := newAuthService(users, newMockTokenRepo(), &mockAuditRepo{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "u1", res.User.ID)
	assert.True(t, users.lastLoginUpdated)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	user := &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "password123"),
		Active:       true,
	}
	svc := newAuthService(newMockUserRepo(user), newMockTokenRepo(), &mockAuditRepo{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong-password"})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	user := &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "password123"),
		Active:       false,
	}
	svc := newAuthService(newMockUserRepo(user), newMockTokenRepo(), &mockAuditRepo{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	user := &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "password123"),
		Active:       true,
	}
	tokens := newMockTokenRepo()
	svc := newAuthService(newMockUserRepo(user), tokens, &mockAuditRepo{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	require.Len(t, tokens.revoked, 1)

	// The consumed token is single-use.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceRefreshExpiredToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", Active: true}
	tokens := newMockTokenRepo()
	tokens.tokens["stale"] = &models.RefreshToken{
		ID:        "rt1",
		UserID:    "u1",
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	svc := newAuthService(newMockUserRepo(user), tokens, &mockAuditRepo{})

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceLogoutRejectsForeignToken(t *testing.T) {
	tokens := newMockTokenRepo()
	tokens.tokens["other"] = &models.RefreshToken{
		ID:        "rt1",
		UserID:    "owner",
		Token:     "other",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	svc := newAuthService(newMockUserRepo(), tokens, &mockAuditRepo{})

	err := svc.Logout(context.Background(), "other", "intruder")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.Empty(t, tokens.revoked)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	user := &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "old-password"),
		Active:       true,
	}
	users := newMockUserRepo(user)
	tokens := newMockTokenRepo()
	svc := newAuthService(users, tokens, &mockAuditRepo{})

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "old-password",
		NewPassword: "new-password",
	})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users.updatedPassword), []byte("new-password")))
	assert.Equal(t, []string{"u1"}, tokens.revokedAll)
}

func TestAuthServiceChangePasswordWrongOld(t *testing.T) {
	user := &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "old-password"),
		Active:       true,
	}
	svc := newAuthService(newMockUserRepo(user), newMockTokenRepo(), &mockAuditRepo{})

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "guess",
		NewPassword: "new-password",
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestAuthServiceValidateTokenRejectsTampered(t *testing.T) {
	user := &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashPassword(t, "password123"),
		Active:       true,
	}
	svc := newAuthService(newMockUserRepo(user), newMockTokenRepo(), &mockAuditRepo{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken + "x")
	require.Error(t, err)
}
