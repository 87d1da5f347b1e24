package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/coursefox/paycore/app/models"
)

// Activator converts a completed transaction into its durable entitlement:
// an active subscription for recurring plans, a purchase grant for one-off
// plans. It always runs inside the Resolve database transaction, so a failed
// activation rolls the terminal-status write back with it and the
// transaction stays in_progress, eligible for a later claim.
type Activator struct{}

// NewActivator creates an entitlement activator.
func NewActivator() *Activator {
	return &Activator{}
}

// Activate grants the entitlement for txn. repo must be the transaction-bound
// repository of the surrounding Resolve call.
func (a *Activator) Activate(repo Repository, txn *models.Transaction, now time.Time) error {
	plan, err := repo.GetPlan(txn.PlanID)
	if err != nil {
		return fmt.Errorf("activate txn %d: load plan %d: %w", txn.ID, txn.PlanID, err)
	}

	if !plan.IsRecurring() {
		return a.grantPurchase(repo, txn, plan, now)
	}
	return a.activateSubscription(repo, txn, plan, now)
}

func (a *Activator) activateSubscription(repo Repository, txn *models.Transaction, plan *models.Plan, now time.Time) error {
	// Duplicate-prevention safety net. The claim protocol is the primary
	// idempotency mechanism; an existing live subscription here means
	// Resolve ran twice and this activation must be a no-op.
	existing, err := repo.GetLiveSubscription(txn.UserID, txn.PlanID)
	if err == nil {
		log.Warnf("[Activator] txn %d: live subscription %d already exists for user %d plan %d, skipping",
			txn.ID, existing.ID, txn.UserID, txn.PlanID)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("activate txn %d: live subscription lookup: %w", txn.ID, err)
	}

	txnID := txn.ID
	next := nextBillingDate(plan, now)
	sub := &models.Subscription{
		UserID:        txn.UserID,
		PlanID:        txn.PlanID,
		TransactionID: &txnID,
		Status:        models.SubscriptionStatusActive,
		StartDate:     now,
		// Price snapshot: later plan repricing never changes this row.
		Price:           plan.Price,
		Currency:        plan.Currency,
		NextBillingDate: next,
	}
	if txn.ProviderTxnID != nil {
		sub.ProviderSubscriptionID = *txn.ProviderTxnID
	}
	if err := repo.CreateSubscription(sub); err != nil {
		return fmt.Errorf("activate txn %d: create subscription: %w", txn.ID, err)
	}

	if err := repo.AppendSubscriptionHistory(&models.SubscriptionHistory{
		SubscriptionID: sub.ID,
		Action:         models.SubscriptionActionStarted,
		Note:           fmt.Sprintf("activated by transaction %s", txn.PublicID),
	}); err != nil {
		return fmt.Errorf("activate txn %d: history append: %w", txn.ID, err)
	}

	log.Infof("[Activator] txn %d: subscription %d started for user %d plan %d", txn.ID, sub.ID, txn.UserID, txn.PlanID)
	return nil
}

func (a *Activator) grantPurchase(repo Repository, txn *models.Transaction, plan *models.Plan, now time.Time) error {
	created, err := repo.CreatePurchaseIfNotExists(&models.Purchase{
		UserID:        txn.UserID,
		PlanID:        plan.ID,
		TransactionID: txn.ID,
		GrantedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("activate txn %d: purchase grant: %w", txn.ID, err)
	}
	if !created {
		log.Warnf("[Activator] txn %d: purchase already granted, skipping", txn.ID)
	}
	return nil
}

func nextBillingDate(plan *models.Plan, now time.Time) *time.Time {
	var next time.Time
	switch plan.Interval {
	case models.PlanIntervalMonth:
		next = now.AddDate(0, 1, 0)
	case models.PlanIntervalYear:
		next = now.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &next
}
