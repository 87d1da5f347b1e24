package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction lifecycle statuses. pending and in_progress are the only
// non-terminal states; everything else is final and write-protected.
const (
	TransactionStatusPending    = "pending"
	TransactionStatusInProgress = "in_progress"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusCancelled  = "cancelled"
	TransactionStatusExpired    = "expired"
)

// Processing sources record which actor holds (or last held) the claim.
const (
	ProcessingSourceNone    = "none"
	ProcessingSourceWebhook = "webhook"
	ProcessingSourcePolling = "polling"
	ProcessingSourceManual  = "manual"
)

// Transition sources for the status audit trail. The expiry reaper claims
// through the polling source but is tracked separately in history.
const (
	TransitionSourceWebhook      = "webhook"
	TransitionSourcePolling      = "polling"
	TransitionSourceExpiryReaper = "expiry_reaper"
	TransitionSourceSystem       = "system"
)

const FailureReasonMaxRetries = "max retries exceeded"

// Transaction is one payment attempt against the external provider. The row
// is only ever mutated through version-checked conditional updates; LockVersion
// is the optimistic lock the claim protocol compares against.
type Transaction struct {
	ID                    uint             `gorm:"primaryKey" json:"id"`
	PublicID              string           `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	UserID                uint             `gorm:"not null;index" json:"user_id"`
	PlanID                uint             `gorm:"not null;index" json:"plan_id"`
	ProviderTxnID         *string          `gorm:"type:varchar(191);uniqueIndex" json:"provider_txn_id,omitempty"`
	Amount                decimal.Decimal  `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency              string           `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	PaymentMethod         string           `gorm:"type:varchar(32);not null;default:''" json:"payment_method"`
	Status                string           `gorm:"type:varchar(20);not null;default:'pending';index:idx_transactions_status_expires,priority:1" json:"status"`
	ProcessingSource      string           `gorm:"type:varchar(16);not null;default:'none'" json:"processing_source"`
	ProcessingAttempts    int              `gorm:"not null;default:0" json:"processing_attempts"`
	ProcessingStartedAt   *time.Time       `gorm:"type:timestamp;default:null" json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time       `gorm:"type:timestamp;default:null" json:"processing_completed_at,omitempty"`
	RaceConditionWinner   string           `gorm:"type:varchar(16);not null;default:''" json:"race_condition_winner"`
	WebhookReceivedAt     *time.Time       `gorm:"type:timestamp;default:null" json:"webhook_received_at,omitempty"`
	LastPollingCheckAt    *time.Time       `gorm:"type:timestamp;default:null" json:"last_polling_check_at,omitempty"`
	ProviderResponse      string           `gorm:"type:longtext" json:"provider_response"`
	FailureReason         *string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	ExpiresAt             time.Time        `gorm:"type:timestamp;not null;index:idx_transactions_status_expires,priority:2" json:"expires_at"`
	LockVersion           uint             `gorm:"not null;default:0" json:"-"`
	CreatedAt             time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the transaction reached a final status.
func (t *Transaction) IsTerminal() bool {
	return IsTerminalTransactionStatus(t.Status)
}

// IsTerminalTransactionStatus reports whether s is one of the four terminal
// statuses from which no automated transition occurs.
func IsTerminalTransactionStatus(s string) bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusExpired:
		return true
	}
	return false
}

// TransactionStatusTransition is one append-only entry in a transaction's
// status history. Rows are created once and never updated.
type TransactionStatusTransition struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TransactionID uint      `gorm:"not null;index" json:"transaction_id"`
	FromStatus    string    `gorm:"type:varchar(20);not null" json:"from_status"`
	ToStatus      string    `gorm:"type:varchar(20);not null" json:"to_status"`
	Source        string    `gorm:"type:varchar(16);not null" json:"source"`
	Reason        string    `gorm:"type:varchar(255);not null;default:''" json:"reason"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
