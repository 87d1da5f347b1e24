package models

import "time"

// Subscription lifecycle actions recorded in the history log.
const (
	SubscriptionActionStarted    = "started"
	SubscriptionActionUpgraded   = "upgraded"
	SubscriptionActionDowngraded = "downgraded"
	SubscriptionActionCancelled  = "cancelled"
	SubscriptionActionRenewed    = "renewed"
	SubscriptionActionExpired    = "expired"
	SubscriptionActionFailed     = "failed"
)

// SubscriptionHistory is the append-only audit of subscription lifecycle
// actions. PreviousPlanID is set for upgrades/downgrades only.
type SubscriptionHistory struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	Action         string    `gorm:"type:varchar(16);not null;index" json:"action"`
	PreviousPlanID *uint     `gorm:"default:null" json:"previous_plan_id,omitempty"`
	Note           string    `gorm:"type:varchar(255);not null;default:''" json:"note"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
