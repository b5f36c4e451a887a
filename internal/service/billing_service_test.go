package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

type mockBillingRepo struct {
	subs map[string]*models.Subscription
}

func newMockBillingRepo() *mockBillingRepo {
	return &mockBillingRepo{subs: map[string]*models.Subscription{}}
}

func (m *mockBillingRepo) Upsert(ctx context.Context, sub *models.Subscription) error {
	m.subs[sub.UserID] = sub
	return nil
}

func (m *mockBillingRepo) FindByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, ok := m.subs[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return sub, nil
}

type mockBillingUsers struct {
	byEmail map[string]*models.User
}

func (m *mockBillingUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newBillingService(repo *mockBillingRepo, users *mockBillingUsers, enforce bool) *BillingService {
	return NewBillingService(repo, users, BillingServiceConfig{Enforce: enforce, WebhookSecret: "whsec"}, zap.NewNop())
}

func TestBillingServiceVerifySignature(t *testing.T) {
	svc := newBillingService(newMockBillingRepo(), &mockBillingUsers{}, true)
	body := []byte(`{"type":"subscription.activated"}`)

	require.NoError(t, svc.VerifySignature(body, signBody("whsec", body)))
	require.Error(t, svc.VerifySignature(body, signBody("wrong-secret", body)))
	require.Error(t, svc.VerifySignature(body, "not-hex"))
}

func TestBillingServiceActivationGrantsEntitlement(t *testing.T) {
	repo := newMockBillingRepo()
	users := &mockBillingUsers{byEmail: map[string]*models.User{
		"teacher@example.com": {ID: "teacher-1", Email: "teacher@example.com"},
	}}
	svc := newBillingService(repo, users, true)

	end := time.Now().Add(30 * 24 * time.Hour).Unix()
	body := []byte(`{"type":"subscription.activated","data":{"customer_email":"teacher@example.com","plan":"pro","status":"ACTIVE","current_period_end":` + strconv.FormatInt(end, 10) + `,"provider_ref":"sub_123"}}`)
	require.NoError(t, svc.HandleProviderEvent(context.Background(), body))

	sub := repo.subs["teacher-1"]
	require.NotNil(t, sub)
	assert.Equal(t, models.PlanStatusActive, sub.Status)
	assert.Equal(t, "pro", sub.Plan)
	assert.Equal(t, "sub_123", sub.ProviderRef)

	entitled, err := svc.Entitled(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.True(t, entitled)
}

func TestBillingServiceCancellationOverridesPayloadStatus(t *testing.T) {
	repo := newMockBillingRepo()
	users := &mockBillingUsers{byEmail: map[string]*models.User{
		"teacher@example.com": {ID: "teacher-1"},
	}}
	svc := newBillingService(repo, users, true)

	body := []byte(`{"type":"subscription.canceled","data":{"customer_email":"teacher@example.com","plan":"pro","status":"ACTIVE","provider_ref":"sub_123"}}`)
	require.NoError(t, svc.HandleProviderEvent(context.Background(), body))
	assert.Equal(t, models.PlanStatusCanceled, repo.subs["teacher-1"].Status)

	entitled, err := svc.Entitled(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.False(t, entitled)
}

func TestBillingServicePaymentFailureMarksPastDue(t *testing.T) {
	repo := newMockBillingRepo()
	users := &mockBillingUsers{byEmail: map[string]*models.User{
		"teacher@example.com": {ID: "teacher-1"},
	}}
	svc := newBillingService(repo, users, true)

	body := []byte(`{"type":"invoice.payment_failed","data":{"customer_email":"teacher@example.com","plan":"pro","provider_ref":"sub_123"}}`)
	require.NoError(t, svc.HandleProviderEvent(context.Background(), body))
	assert.Equal(t, models.PlanStatusPastDue, repo.subs["teacher-1"].Status)
}

func TestBillingServiceUnknownEventAcknowledged(t *testing.T) {
	repo := newMockBillingRepo()
	svc := newBillingService(repo, &mockBillingUsers{}, true)

	body := []byte(`{"type":"charge.refunded","data":{"customer_email":"teacher@example.com"}}`)
	require.NoError(t, svc.HandleProviderEvent(context.Background(), body))
	assert.Empty(t, repo.subs)
}

func TestBillingServiceUnknownCustomerAcknowledged(t *testing.T) {
	repo := newMockBillingRepo()
	svc := newBillingService(repo, &mockBillingUsers{byEmail: map[string]*models.User{}}, true)

	body := []byte(`{"type":"subscription.activated","data":{"customer_email":"ghost@example.com","plan":"pro"}}`)
	require.NoError(t, svc.HandleProviderEvent(context.Background(), body))
	assert.Empty(t, repo.subs)
}

func TestBillingServiceMalformedPayloadRejected(t *testing.T) {
	svc := newBillingService(newMockBillingRepo(), &mockBillingUsers{}, true)
	require.Error(t, svc.HandleProviderEvent(context.Background(), []byte("{not json")))
}

func TestBillingServiceEntitlementWithoutEnforcement(t *testing.T) {
	svc := newBillingService(newMockBillingRepo(), &mockBillingUsers{}, false)

	entitled, err := svc.Entitled(context.Background(), "anyone")
	require.NoError(t, err)
	assert.True(t, entitled)
}

func TestBillingServiceEntitlementExpiredPeriod(t *testing.T) {
	repo := newMockBillingRepo()
	past := time.Now().Add(-time.Hour)
	repo.subs["teacher-1"] = &models.Subscription{
		UserID:           "teacher-1",
		Status:           models.PlanStatusActive,
		CurrentPeriodEnd: &past,
	}
	svc := newBillingService(repo, &mockBillingUsers{}, true)

	entitled, err := svc.Entitled(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.False(t, entitled)
}

func TestBillingServiceSubscriptionNeverSubscribed(t *testing.T) {
	svc := newBillingService(newMockBillingRepo(), &mockBillingUsers{}, true)

	sub, err := svc.Subscription(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

