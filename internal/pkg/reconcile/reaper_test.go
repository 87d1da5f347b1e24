package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursefox/paycore/app/models"
)

// Covers the deadline path: a transaction one minute past its window is
// expired with no entitlement granted.
func TestReapExpiresOverdueTransaction(t *testing.T) {
	engine, repo, clock := newTestEngine(DefaultConfig())
	stats := newRecordingStats()
	engine.SetStats(stats)
	reaper := NewReaper(engine)
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalMonth, "9.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", -time.Minute)

	require.NoError(t, reaper.ReapOnce(context.Background()))

	stored, err := repo.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusExpired, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "resolution window elapsed", *stored.FailureReason)
	assert.Equal(t, 1, stats.get(StatReaped))

	// Expiry grants nothing.
	assert.Empty(t, repo.subs)
	assert.Empty(t, repo.purchases)

	history, err := repo.ListStatusTransitions(txn.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.TransitionSourceExpiryReaper, history[1].Source)
	assert.Equal(t, models.TransactionStatusExpired, history[1].ToStatus)
}

func TestReapIgnoresUnexpiredTransactions(t *testing.T) {
	engine, repo, clock := newTestEngine(DefaultConfig())
	reaper := NewReaper(engine)
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalMonth, "9.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", 30*time.Minute)

	require.NoError(t, reaper.ReapOnce(context.Background()))

	stored, err := repo.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, stored.Status)
}

// A fresh claim blocks the reaper even when the deadline has passed; the claim
// holder is presumed to be finishing with real provider truth.
func TestReapLosesRaceToActiveClaim(t *testing.T) {
	engine, repo, clock := newTestEngine(DefaultConfig())
	reaper := NewReaper(engine)
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalMonth, "9.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", time.Minute)

	result, claim, err := engine.TryClaim(context.Background(), txn.ID, models.ProcessingSourceWebhook)
	require.NoError(t, err)
	require.Equal(t, Claimed, result)

	clock.Advance(90 * time.Second)
	require.NoError(t, reaper.ReapOnce(context.Background()))

	stored, err := repo.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusInProgress, stored.Status)

	// The claim holder still resolves normally afterwards.
	require.NoError(t, engine.Resolve(context.Background(), claim, Outcome{
		Status: models.TransactionStatusCompleted,
		Source: models.ProcessingSourceWebhook,
	}))
	stored, err = repo.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, stored.Status)
}

// Once a claim on an overdue transaction has gone stale the reaper takes it.
func TestReapReclaimsStaleOverdueClaim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleClaim = 2 * time.Minute
	engine, repo, clock := newTestEngine(cfg)
	reaper := NewReaper(engine)
	seedUser(repo, 1)
	seedPlan(repo, 1, models.PlanIntervalMonth, "9.99")
	txn := seedPendingTxn(repo, clock, 1, 1, "prov-1", time.Minute)

	result, _, err := engine.TryClaim(context.Background(), txn.ID, models.ProcessingSourceWebhook)
	require.NoError(t, err)
	require.Equal(t, Claimed, result)

	clock.Advance(5 * time.Minute)
	require.NoError(t, reaper.ReapOnce(context.Background()))

	stored, err := repo.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusExpired, stored.Status)
}

func TestReaperStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReapInterval = 50 * time.Millisecond
	engine, _, _ := newTestEngine(cfg)
	reaper := NewReaper(engine)

	reaper.Start()
	reaper.Start()
	time.Sleep(10 * time.Millisecond)
	reaper.Stop()
	reaper.Stop()
}
