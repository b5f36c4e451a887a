package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/models"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
)

type billingRepository interface {
	Upsert(ctx context.Context, sub *models.Subscription) error
	FindByUser(ctx context.Context, userID string) (*models.Subscription, error)
}

type billingUserReader interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// ProviderEvent is the payment provider's webhook envelope. The provider
// is the source of truth for subscription state; events are applied with
// last-write-wins semantics.
type ProviderEvent struct {
	Type string            `json:"type"`
	Data SubscriptionEvent `json:"data"`
}

// SubscriptionEvent carries the subscription fields a provider event
// reports for a customer.
type SubscriptionEvent struct {
	CustomerEmail    string `json:"customer_email"`
	Plan             string `json:"plan"`
	Status           string `json:"status"`
	CurrentPeriodEnd *int64 `json:"current_period_end,omitempty"`
	ProviderRef      string `json:"provider_ref"`
}

// Recognized provider event types. Anything else is acknowledged and
// dropped so the provider does not retry forever.
const (
	eventSubscriptionActivated = "subscription.activated"
	eventSubscriptionUpdated   = "subscription.updated"
	eventSubscriptionCanceled  = "subscription.canceled"
	eventPaymentFailed         = "invoice.payment_failed"
)

// BillingServiceConfig controls subscription gating.
type BillingServiceConfig struct {
	Enforce       bool
	WebhookSecret string
}

// BillingService mirrors provider subscription state and answers
// entitlement checks for teacher actions. When enforcement is off every
// user is entitled, which keeps local and trial deployments friction free.
type BillingService struct {
	repo    billingRepository
	users   billingUserReader
	enforce bool
	secret  []byte
	logger  *zap.Logger
}

// NewBillingService constructs a BillingService.
func NewBillingService(repo billingRepository, users billingUserReader, cfg BillingServiceConfig, logger *zap.Logger) *BillingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingService{
		repo:    repo,
		users:   users,
		enforce: cfg.Enforce,
		secret:  []byte(cfg.WebhookSecret),
		logger:  logger,
	}
}

// VerifySignature checks the provider's HMAC-SHA256 signature over the raw
// webhook body. The signature arrives hex encoded in a request header.
func (s *BillingService) VerifySignature(body []byte, signature string) error {
	if len(s.secret) == 0 {
		return appErrors.Clone(appErrors.ErrUnauthorized, "billing webhook secret is not configured")
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook signature")
	}
	return nil
}

// HandleProviderEvent applies one verified webhook delivery. Unknown event
// types and unknown customers are logged and acknowledged; returning an
// error would make the provider retry a delivery that can never succeed.
func (s *BillingService) HandleProviderEvent(ctx context.Context, body []byte) error {
	var event ProviderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "malformed webhook payload")
	}

	switch event.Type {
	case eventSubscriptionActivated, eventSubscriptionUpdated, eventSubscriptionCanceled, eventPaymentFailed:
	default:
		s.logger.Info("ignoring unrecognized billing event", zap.String("type", event.Type))
		return nil
	}

	if event.Data.CustomerEmail == "" {
		return appErrors.Clone(appErrors.ErrValidation, "webhook payload missing customer email")
	}

	user, err := s.users.FindByEmail(ctx, event.Data.CustomerEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("billing event for unknown customer",
				zap.String("type", event.Type),
				zap.String("email", event.Data.CustomerEmail))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve billing customer")
	}

	sub := &models.Subscription{
		UserID:      user.ID,
		Plan:        event.Data.Plan,
		Status:      s.statusFor(event),
		ProviderRef: event.Data.ProviderRef,
	}
	if event.Data.CurrentPeriodEnd != nil {
		end := time.Unix(*event.Data.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}

	if err := s.repo.Upsert(ctx, sub); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record subscription state")
	}

	s.logger.Info("applied billing event",
		zap.String("type", event.Type),
		zap.String("user_id", user.ID),
		zap.String("status", string(sub.Status)))
	return nil
}

// statusFor maps the event to a plan status. Cancellations and payment
// failures override whatever status string the payload carries.
func (s *BillingService) statusFor(event ProviderEvent) models.PlanStatus {
	switch event.Type {
	case eventSubscriptionCanceled:
		return models.PlanStatusCanceled
	case eventPaymentFailed:
		return models.PlanStatusPastDue
	}
	switch models.PlanStatus(event.Data.Status) {
	case models.PlanStatusActive, models.PlanStatusPastDue, models.PlanStatusCanceled:
		return models.PlanStatus(event.Data.Status)
	default:
		return models.PlanStatusActive
	}
}

// Entitled reports whether the user may perform gated teacher actions.
// With enforcement disabled everyone is entitled.
func (s *BillingService) Entitled(ctx context.Context, userID string) (bool, error) {
	if !s.enforce {
		return true, nil
	}
	sub, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return sub.Entitled(time.Now()), nil
}

// Subscription returns the actor's subscription state, or nil when they
// never subscribed.
func (s *BillingService) Subscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return sub, nil
}
