package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan billing intervals. "once" marks a one-off purchase instead of a
// recurring subscription.
const (
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
	PlanIntervalOnce  = "once"
)

// Plan is a purchasable offering. Its price is only the source for snapshots
// copied onto transactions and subscriptions at creation time.
type Plan struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Name      string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency  string          `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	Interval  string          `gorm:"type:varchar(8);not null;default:'month'" json:"interval"`
	IsActive  bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRecurring reports whether completing a payment for this plan creates a
// subscription rather than a one-off purchase grant.
func (p *Plan) IsRecurring() bool {
	return p.Interval != PlanIntervalOnce
}
