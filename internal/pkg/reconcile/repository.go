package reconcile

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursefox/paycore/app/models"
)

// Repository provides the storage operations the reconciliation engine needs.
// Transaction rows are only ever written through UpdateTransactionCAS; the
// history and webhook tables are append-only.
type Repository interface {
	// InTransaction runs fn against a repository bound to one database
	// transaction. Returning an error rolls everything back.
	InTransaction(fn func(Repository) error) error

	GetTransaction(id uint) (*models.Transaction, error)
	GetTransactionByPublicID(publicID string) (*models.Transaction, error)
	GetTransactionByProviderTxnID(providerTxnID string) (*models.Transaction, error)
	CreateTransaction(t *models.Transaction) error
	// UpdateTransactionCAS applies updates only if the row still carries
	// expectedVersion. Returns false when the compare-and-swap lost.
	UpdateTransactionCAS(id, expectedVersion uint, updates map[string]interface{}) (bool, error)
	TouchLastPollingCheck(id uint, at time.Time) error
	SetRaceConditionWinner(id uint, winner string) error
	AppendStatusTransition(tr *models.TransactionStatusTransition) error
	ListStatusTransitions(transactionID uint) ([]models.TransactionStatusTransition, error)
	ListPollingCandidates(now time.Time, recheck time.Duration, limit int) ([]models.Transaction, error)
	ListExpiredTransactions(now time.Time, limit int) ([]models.Transaction, error)

	CreateWebhookEventIfNotExists(e *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(provider, providerEventID string) (*models.WebhookEvent, error)
	UpdateWebhookEvent(id uint, updates map[string]interface{}) error

	GetPlan(id uint) (*models.Plan, error)
	GetUser(id uint) (*models.User, error)
	GetLiveSubscription(userID, planID uint) (*models.Subscription, error)
	CreateSubscription(s *models.Subscription) error
	AppendSubscriptionHistory(h *models.SubscriptionHistory) error
	ListSubscriptionsByUser(userID uint) ([]models.Subscription, error)
	CreatePurchaseIfNotExists(p *models.Purchase) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reconciliation repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) InTransaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetTransaction(id uint) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) GetTransactionByPublicID(publicID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.Where("public_id = ?", publicID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) GetTransactionByProviderTxnID(providerTxnID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.Where("provider_txn_id = ?", providerTxnID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) CreateTransaction(t *models.Transaction) error {
	return r.db.Create(t).Error
}

func (r *gormRepository) UpdateTransactionCAS(id, expectedVersion uint, updates map[string]interface{}) (bool, error) {
	tx := r.db.Model(&models.Transaction{}).
		Where("id = ? AND lock_version = ?", id, expectedVersion).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) TouchLastPollingCheck(id uint, at time.Time) error {
	return r.db.Model(&models.Transaction{}).Where("id = ?", id).
		Update("last_polling_check_at", &at).Error
}

func (r *gormRepository) SetRaceConditionWinner(id uint, winner string) error {
	// Derived audit data, not control state; a blind single-column write is
	// safe because nothing reads it back for decisions.
	return r.db.Model(&models.Transaction{}).Where("id = ?", id).
		Update("race_condition_winner", winner).Error
}

func (r *gormRepository) AppendStatusTransition(tr *models.TransactionStatusTransition) error {
	return r.db.Create(tr).Error
}

func (r *gormRepository) ListStatusTransitions(transactionID uint) ([]models.TransactionStatusTransition, error) {
	var out []models.TransactionStatusTransition
	err := r.db.Where("transaction_id = ?", transactionID).
		Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) ListPollingCandidates(now time.Time, recheck time.Duration, limit int) ([]models.Transaction, error) {
	cutoff := now.Add(-recheck)
	var out []models.Transaction
	err := r.db.
		Where("status IN ?", []string{models.TransactionStatusPending, models.TransactionStatusInProgress}).
		Where("expires_at > ?", now).
		Where("last_polling_check_at IS NULL OR last_polling_check_at < ?", cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *gormRepository) ListExpiredTransactions(now time.Time, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	err := r.db.
		Where("status IN ?", []string{models.TransactionStatusPending, models.TransactionStatusInProgress}).
		Where("expires_at <= ?", now).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(e)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", e.Provider, e.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(provider, providerEventID string) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := r.db.Where("provider = ? AND provider_event_id = ?", provider, providerEventID).First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) UpdateWebhookEvent(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetPlan(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetLiveSubscription(userID, planID uint) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.
		Where("user_id = ? AND plan_id = ?", userID, planID).
		Where("status IN ?", []string{models.SubscriptionStatusPending, models.SubscriptionStatusActive}).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) CreateSubscription(s *models.Subscription) error {
	return r.db.Create(s).Error
}

func (r *gormRepository) AppendSubscriptionHistory(h *models.SubscriptionHistory) error {
	return r.db.Create(h).Error
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	var out []models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) CreatePurchaseIfNotExists(p *models.Purchase) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "transaction_id"},
		},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
