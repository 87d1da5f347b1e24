package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coursefox/paycore/app/models"
)

// CreateTransactionInput describes one new payment attempt. ExpiresAt is
// optional; unset means now + Config.DefaultExpiry.
type CreateTransactionInput struct {
	UserID        uint
	PlanID        uint
	PaymentMethod string
	ProviderTxnID *string
	ExpiresAt     *time.Time
}

// CreateTransaction records a new pending payment attempt with the plan's
// current price snapshot and the initial audit transition.
func (e *Engine) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*models.Transaction, error) {
	_ = ctx
	if in.UserID == 0 || in.PlanID == 0 {
		return nil, errors.New("user_id and plan_id are required")
	}

	user, err := e.repo.GetUser(in.UserID)
	if err != nil {
		return nil, fmt.Errorf("create transaction: load user %d: %w", in.UserID, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("create transaction: user %d is inactive", in.UserID)
	}
	plan, err := e.repo.GetPlan(in.PlanID)
	if err != nil {
		return nil, fmt.Errorf("create transaction: load plan %d: %w", in.PlanID, err)
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("create transaction: plan %d is inactive", in.PlanID)
	}

	now := e.clock()
	expiresAt := now.Add(e.cfg.DefaultExpiry)
	if in.ExpiresAt != nil {
		expiresAt = *in.ExpiresAt
	}

	txn := &models.Transaction{
		PublicID:         uuid.NewString(),
		UserID:           in.UserID,
		PlanID:           in.PlanID,
		ProviderTxnID:    in.ProviderTxnID,
		Amount:           plan.Price,
		Currency:         plan.Currency,
		PaymentMethod:    in.PaymentMethod,
		Status:           models.TransactionStatusPending,
		ProcessingSource: models.ProcessingSourceNone,
		ExpiresAt:        expiresAt,
	}

	err = e.repo.InTransaction(func(tx Repository) error {
		if err := tx.CreateTransaction(txn); err != nil {
			return err
		}
		return tx.AppendStatusTransition(&models.TransactionStatusTransition{
			TransactionID: txn.ID,
			FromStatus:    "created",
			ToStatus:      models.TransactionStatusPending,
			Source:        models.TransitionSourceSystem,
		})
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// AttachProviderReference links the provider-side identifier once the
// provider payment page exists. Conditional on the observed version so a
// concurrent claim never gets overwritten.
func (e *Engine) AttachProviderReference(ctx context.Context, publicID, providerTxnID string) error {
	_ = ctx
	txn, err := e.repo.GetTransactionByPublicID(publicID)
	if err != nil {
		return err
	}
	if txn.Status != models.TransactionStatusPending {
		return fmt.Errorf("attach provider reference: txn %s is %s", publicID, txn.Status)
	}
	ok, err := e.repo.UpdateTransactionCAS(txn.ID, txn.LockVersion, map[string]interface{}{
		"provider_txn_id": providerTxnID,
		"lock_version":    txn.LockVersion + 1,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStorageConflict
	}
	return nil
}

// GetTransactionByPublicID exposes the read path for the status API.
func (e *Engine) GetTransactionByPublicID(ctx context.Context, publicID string) (*models.Transaction, error) {
	_ = ctx
	return e.repo.GetTransactionByPublicID(publicID)
}

// ListStatusTransitions returns the ordered audit trail of one transaction.
func (e *Engine) ListStatusTransitions(ctx context.Context, transactionID uint) ([]models.TransactionStatusTransition, error) {
	_ = ctx
	return e.repo.ListStatusTransitions(transactionID)
}

// ListSubscriptionsByUser exposes the subscription read path for the API.
func (e *Engine) ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	_ = ctx
	return e.repo.ListSubscriptionsByUser(userID)
}
