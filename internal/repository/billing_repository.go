package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

// BillingRepository stores subscription state mirrored from the payment
// provider.
type BillingRepository struct {
	db *sqlx.DB
}

// NewBillingRepository constructs a BillingRepository.
func NewBillingRepository(db *sqlx.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// Upsert writes the subscription row for a user, replacing any previous
// state. Webhook deliveries can arrive out of order; last write wins on
// the provider's say-so.
func (r *BillingRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now()
	sub.UpdatedAt = now
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	const query = `INSERT INTO subscriptions (id, user_id, plan, status, current_period_end, provider_ref, created_at, updated_at)
        VALUES (:id, :user_id, :plan, :status, :current_period_end, :provider_ref, :created_at, :updated_at)
        ON CONFLICT (user_id) DO UPDATE SET
            plan = EXCLUDED.plan,
            status = EXCLUDED.status,
            current_period_end = EXCLUDED.current_period_end,
            provider_ref = EXCLUDED.provider_ref,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// FindByUser returns the subscription for a user, or sql.ErrNoRows when
// the user never subscribed.
func (r *BillingRepository) FindByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	const query = `SELECT id, user_id, plan, status, current_period_end, provider_ref, created_at, updated_at
        FROM subscriptions WHERE user_id = $1 LIMIT 1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}
