package models

import "time"

// Purchase is the durable access grant for a completed one-off payment. The
// (user_id, transaction_id) unique index makes repeated activation attempts
// for the same payment a no-op.
type Purchase struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index:ux_purchases_user_txn,unique,priority:1" json:"user_id"`
	PlanID        uint      `gorm:"not null;index" json:"plan_id"`
	TransactionID uint      `gorm:"not null;index:ux_purchases_user_txn,unique,priority:2" json:"transaction_id"`
	GrantedAt     time.Time `gorm:"type:timestamp;not null" json:"granted_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
