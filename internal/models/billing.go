package models

import "time"

// PlanStatus mirrors the payment provider's subscription state.
type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "ACTIVE"
	PlanStatusPastDue  PlanStatus = "PAST_DUE"
	PlanStatusCanceled PlanStatus = "CANCELED"
)

// Subscription records a teacher's billing plan. Rows are written only by
// the payment provider webhook; the application reads them for gating.
type Subscription struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	Plan             string     `db:"plan" json:"plan"`
	Status           PlanStatus `db:"status" json:"status"`
	CurrentPeriodEnd *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	ProviderRef      string     `db:"provider_ref" json:"provider_ref"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Entitled reports whether the subscription currently grants access.
func (s *Subscription) Entitled(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != PlanStatusActive {
		return false
	}
	if s.CurrentPeriodEnd != nil && now.After(*s.CurrentPeriodEnd) {
		return false
	}
	return true
}
