package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription lifecycle statuses. pending and active count as "live" for the
// one-live-subscription-per-(user,plan) rule.
const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusFailed    = "failed"
)

// Subscription is a recurring entitlement derived from one completed
// transaction. Price is a snapshot taken from the plan at activation time and
// never changes afterwards, even if the plan is repriced.
type Subscription struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	UserID                 uint            `gorm:"not null;index:idx_subscriptions_user_plan,priority:1" json:"user_id"`
	PlanID                 uint            `gorm:"not null;index:idx_subscriptions_user_plan,priority:2" json:"plan_id"`
	TransactionID          *uint           `gorm:"index" json:"transaction_id,omitempty"`
	Status                 string          `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	StartDate              time.Time       `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate                *time.Time      `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	NextBillingDate        *time.Time      `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	Price                  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency               string          `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	ProviderSubscriptionID string          `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_id"`
	ProviderStatus         string          `gorm:"type:varchar(32);not null;default:''" json:"provider_status"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsLive reports whether the subscription currently grants its entitlement.
func (s *Subscription) IsLive() bool {
	return s.Status == SubscriptionStatusPending || s.Status == SubscriptionStatusActive
}
