package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursefox/paycore/app/models"
)

func TestActivateRecurringPlanCreatesSubscription(t *testing.T) {
	repo := newFakeRepo()
	clock := newFakeClock()
	seedUser(repo, 1)
	plan := seedPlan(repo, 1, models.PlanIntervalMonth, "19.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", 30*time.Minute)

	now := clock.Now()
	require.NoError(t, NewActivator().Activate(repo, txn, now))

	subs, err := repo.ListSubscriptionsByUser(1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, plan.ID, sub.PlanID)
	require.NotNil(t, sub.TransactionID)
	assert.Equal(t, txn.ID, *sub.TransactionID)
	assert.True(t, sub.Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, "prov-1", sub.ProviderSubscriptionID)
	require.NotNil(t, sub.NextBillingDate)
	assert.Equal(t, now.AddDate(0, 1, 0), *sub.NextBillingDate)

	require.Len(t, repo.subHistory, 1)
	assert.Equal(t, models.SubscriptionActionStarted, repo.subHistory[0].Action)
	assert.Equal(t, sub.ID, repo.subHistory[0].SubscriptionID)
}

func TestActivateYearlyPlanBillingDate(t *testing.T) {
	repo := newFakeRepo()
	clock := newFakeClock()
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalYear, "99.00")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", 30*time.Minute)

	now := clock.Now()
	require.NoError(t, NewActivator().Activate(repo, txn, now))

	subs, err := repo.ListSubscriptionsByUser(1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].NextBillingDate)
	assert.Equal(t, now.AddDate(1, 0, 0), *subs[0].NextBillingDate)
}

// The price written to the subscription is a snapshot; repricing the plan
// afterwards leaves the row alone.
func TestActivatePriceSnapshotSurvivesRepricing(t *testing.T) {
	repo := newFakeRepo()
	clock := newFakeClock()
	seedUser(repo, 1)
	plan := seedPlan(repo, 1, models.PlanIntervalMonth, "19.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", 30*time.Minute)

	require.NoError(t, NewActivator().Activate(repo, txn, clock.Now()))

	plan.Price = decimal.RequireFromString("29.99")

	subs, err := repo.ListSubscriptionsByUser(1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Price.Equal(decimal.RequireFromString("19.99")))
}

// One live subscription per (user, plan). A second activation is a no-op, not
// a duplicate.
func TestActivateIsNoopWhenLiveSubscriptionExists(t *testing.T) {
	repo := newFakeRepo()
	clock := newFakeClock()
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalMonth, "19.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", 30*time.Minute)

	activator := NewActivator()
	require.NoError(t, activator.Activate(repo, txn, clock.Now()))
	require.NoError(t, activator.Activate(repo, txn, clock.Now()))

	subs, err := repo.ListSubscriptionsByUser(1)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Len(t, repo.subHistory, 1)
}

// A terminated subscription does not block a new activation for the same
// plan.
func TestActivateAfterCancelledSubscription(t *testing.T) {
	repo := newFakeRepo()
	clock := newFakeClock()
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalMonth, "19.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", 30*time.Minute)

	require.NoError(t, NewActivator().Activate(repo, txn, clock.Now()))
	repo.mu.Lock()
	repo.subs[0].Status = models.SubscriptionStatusCancelled
	repo.mu.Unlock()

	txn2 := seedPendingTxn(repo, clock, 1, 1, "prov-2", 30*time.Minute)
	require.NoError(t, NewActivator().Activate(repo, txn2, clock.Now()))

	subs, err := repo.ListSubscriptionsByUser(1)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestActivateOneOffPlanGrantsPurchase(t *testing.T) {
	repo := newFakeRepo()
	clock := newFakeClock()
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalOnce, "4.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", 30*time.Minute)

	activator := NewActivator()
	require.NoError(t, activator.Activate(repo, txn, clock.Now()))

	require.Len(t, repo.purchases, 1)
	assert.Equal(t, txn.ID, repo.purchases[0].TransactionID)
	assert.Empty(t, repo.subs)

	// Repeat activation hits the unique grant and stays a no-op.
	require.NoError(t, activator.Activate(repo, txn, clock.Now()))
	assert.Len(t, repo.purchases, 1)
}
