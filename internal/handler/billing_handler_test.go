package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	"github.com/lexigrade/lexigrade-api/internal/service"
)

type billingRepoStub struct {
	upserted []*models.Subscription
}

func (s *billingRepoStub) Upsert(ctx context.Context, sub *models.Subscription) error {
	s.upserted = append(s.upserted, sub)
	return nil
}

func (s *billingRepoStub) FindByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	return nil, sql.ErrNoRows
}

type billingUsersStub struct{}

func (billingUsersStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "teacher@example.com" {
		return &models.User{ID: "teacher-1", Email: email}, nil
	}
	return nil, sql.ErrNoRows
}

func signWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newBillingWebhookHandler(repo *billingRepoStub) *BillingHandler {
	svc := service.NewBillingService(repo, billingUsersStub{}, service.BillingServiceConfig{
		Enforce:       true,
		WebhookSecret: "whsec",
	}, zap.NewNop())
	return NewBillingHandler(svc)
}

func TestBillingHandlerWebhookAcceptsSignedEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &billingRepoStub{}
	handler := newBillingWebhookHandler(repo)

	body := []byte(`{"type":"subscription.activated","data":{"customer_email":"teacher@example.com","plan":"pro","status":"ACTIVE","provider_ref":"sub_1"}}`)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signWebhook("whsec", body))
	c.Request = req

	handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, "teacher-1", repo.upserted[0].UserID)
}

func TestBillingHandlerWebhookRejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &billingRepoStub{}
	handler := newBillingWebhookHandler(repo)

	body := []byte(`{"type":"subscription.activated","data":{"customer_email":"teacher@example.com"}}`)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signWebhook("wrong", body))
	c.Request = req

	handler.Webhook(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, repo.upserted)
}
