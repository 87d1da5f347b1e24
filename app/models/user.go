package models

import "time"

// User is the minimal owner record the payment core needs: an id to hang
// transactions and subscriptions on, plus the address receipts go to.
// Account management lives in the main platform, not here.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(200);not null;uniqueIndex" json:"email"`
	Name      string    `gorm:"type:varchar(100);not null;default:''" json:"name"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
