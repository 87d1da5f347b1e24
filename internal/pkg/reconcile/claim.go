package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/coursefox/paycore/app/models"
)

// Engine owns the claim protocol: it is the single serialization point per
// transaction. Webhook intake, the polling sweeper and the expiry reaper all
// funnel through TryClaim/Resolve/Abandon; no caller ever writes transaction
// state directly.
type Engine struct {
	repo        Repository
	cfg         Config
	clock       func() time.Time
	activator   *Activator
	stats       Stats
	onCompleted CompletionHook
}

// NewEngine creates the reconciliation engine. The clock defaults to
// time.Now and stats to a no-op recorder.
func NewEngine(repo Repository, cfg Config) *Engine {
	return &Engine{
		repo:      repo,
		cfg:       cfg,
		clock:     time.Now,
		activator: NewActivator(),
		stats:     noopStats{},
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// SetStats installs a counter recorder.
func (e *Engine) SetStats(s Stats) {
	if s != nil {
		e.stats = s
	}
}

// OnCompleted registers the hook fired after a transaction commits as
// completed (receipt mails, downstream notifications).
func (e *Engine) OnCompleted(hook CompletionHook) {
	e.onCompleted = hook
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// TryClaim attempts to seize exclusive processing rights over a transaction.
// A claim is granted from pending, or from in_progress once the existing
// claim has gone stale. The grant is a single compare-and-swap on the row's
// lock version; exactly one concurrent caller can win it.
func (e *Engine) TryClaim(ctx context.Context, txnID uint, source string) (ClaimResult, *Claim, error) {
	_ = ctx
	txn, err := e.repo.GetTransaction(txnID)
	if err != nil {
		return LostRace, nil, err
	}

	now := e.clock()
	if !e.claimable(txn, now) {
		e.recordRaceLoss(txn, source)
		return LostRace, nil, nil
	}

	updates := map[string]interface{}{
		"status":                models.TransactionStatusInProgress,
		"processing_source":     source,
		"processing_attempts":   txn.ProcessingAttempts + 1,
		"processing_started_at": &now,
		"lock_version":          txn.LockVersion + 1,
	}
	if source == models.ProcessingSourceWebhook {
		updates["webhook_received_at"] = &now
	}

	ok, err := e.repo.UpdateTransactionCAS(txn.ID, txn.LockVersion, updates)
	if err != nil {
		return LostRace, nil, err
	}
	if !ok {
		// Narrow window: someone else claimed between our read and write.
		if fresh, ferr := e.repo.GetTransaction(txnID); ferr == nil {
			e.recordRaceLoss(fresh, source)
		}
		return LostRace, nil, nil
	}

	if err := e.repo.AppendStatusTransition(&models.TransactionStatusTransition{
		TransactionID: txn.ID,
		FromStatus:    txn.Status,
		ToStatus:      models.TransactionStatusInProgress,
		Source:        transitionSource(source),
		Reason:        fmt.Sprintf("claimed by %s (attempt %d)", source, txn.ProcessingAttempts+1),
	}); err != nil {
		return LostRace, nil, err
	}

	prevStatus := txn.Status
	txn.Status = models.TransactionStatusInProgress
	txn.ProcessingSource = source
	txn.ProcessingAttempts++
	txn.ProcessingStartedAt = &now
	txn.LockVersion++

	e.stats.Incr(StatClaimWon)
	log.Debugf("[Reconcile] txn %d claimed by %s (%s -> in_progress)", txn.ID, source, prevStatus)
	return Claimed, &Claim{Transaction: txn, Source: source, Version: txn.LockVersion}, nil
}

// Resolve performs the single conditional write that moves a claimed
// transaction to its terminal status, appends the audit transition and, for
// completions, runs entitlement activation inside the same database
// transaction. Losing the conditional write means another actor already
// resolved the row; that is a logged no-op, never an error.
func (e *Engine) Resolve(ctx context.Context, claim *Claim, out Outcome) error {
	_ = ctx
	if claim == nil || claim.Transaction == nil {
		return fmt.Errorf("resolve requires a held claim")
	}
	if !models.IsTerminalTransactionStatus(out.Status) {
		return fmt.Errorf("resolve to non-terminal status %q", out.Status)
	}

	now := e.clock()
	txnID := claim.Transaction.ID
	applied := false

	err := e.repo.InTransaction(func(tx Repository) error {
		updates := map[string]interface{}{
			"status":                  out.Status,
			"processing_completed_at": &now,
			"lock_version":            claim.Version + 1,
		}
		if out.FailureReason != "" {
			updates["failure_reason"] = out.FailureReason
		}
		if out.ProviderResponse != "" {
			updates["provider_response"] = out.ProviderResponse
		}

		ok, err := tx.UpdateTransactionCAS(txnID, claim.Version, updates)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true

		if err := tx.AppendStatusTransition(&models.TransactionStatusTransition{
			TransactionID: txnID,
			FromStatus:    models.TransactionStatusInProgress,
			ToStatus:      out.Status,
			Source:        transitionSource(out.Source),
			Reason:        out.FailureReason,
		}); err != nil {
			return err
		}

		if out.Status == models.TransactionStatusCompleted {
			return e.activator.Activate(tx, claim.Transaction, now)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !applied {
		log.Infof("[Reconcile] txn %d resolve to %s was a no-op, already finalized elsewhere", txnID, out.Status)
		return nil
	}

	claim.Transaction.Status = out.Status
	claim.Transaction.ProcessingCompletedAt = &now
	if out.FailureReason != "" {
		reason := out.FailureReason
		claim.Transaction.FailureReason = &reason
	}
	if out.ProviderResponse != "" {
		claim.Transaction.ProviderResponse = out.ProviderResponse
	}

	e.stats.Incr(StatResolved)
	log.Infof("[Reconcile] txn %d resolved to %s by %s", txnID, out.Status, out.Source)

	if out.Status == models.TransactionStatusCompleted {
		e.stats.Incr(StatActivations)
		if e.onCompleted != nil {
			e.onCompleted(claim.Transaction)
		}
	}
	return nil
}

// AbandonTransient releases a claim after a retryable provider failure. Once
// the attempt ceiling is reached the transaction is resolved to failed
// instead of being released again.
func (e *Engine) AbandonTransient(ctx context.Context, claim *Claim, reason string) error {
	if claim == nil || claim.Transaction == nil {
		return fmt.Errorf("abandon requires a held claim")
	}
	if claim.Transaction.ProcessingAttempts >= e.cfg.MaxProcessingAttempts {
		return e.Resolve(ctx, claim, Outcome{
			Status:        models.TransactionStatusFailed,
			Source:        claim.Source,
			FailureReason: models.FailureReasonMaxRetries,
		})
	}
	return e.Abandon(ctx, claim, reason)
}

// Abandon releases a held claim back to pending so a future sweep or webhook
// can retry. Used when the provider still reports the payment as pending;
// the expiry deadline, not a retry ceiling, bounds this path.
func (e *Engine) Abandon(ctx context.Context, claim *Claim, reason string) error {
	_ = ctx
	if claim == nil || claim.Transaction == nil {
		return fmt.Errorf("abandon requires a held claim")
	}

	updates := map[string]interface{}{
		"status":                models.TransactionStatusPending,
		"processing_started_at": nil,
		"lock_version":          claim.Version + 1,
	}
	ok, err := e.repo.UpdateTransactionCAS(claim.Transaction.ID, claim.Version, updates)
	if err != nil {
		return err
	}
	if !ok {
		log.Infof("[Reconcile] txn %d abandon was a no-op, row moved on", claim.Transaction.ID)
		return nil
	}

	if err := e.repo.AppendStatusTransition(&models.TransactionStatusTransition{
		TransactionID: claim.Transaction.ID,
		FromStatus:    models.TransactionStatusInProgress,
		ToStatus:      models.TransactionStatusPending,
		Source:        transitionSource(claim.Source),
		Reason:        reason,
	}); err != nil {
		return err
	}

	claim.Transaction.Status = models.TransactionStatusPending
	claim.Transaction.ProcessingStartedAt = nil
	claim.Transaction.LockVersion++

	e.stats.Incr(StatAbandoned)
	log.Infof("[Reconcile] txn %d claim abandoned by %s: %s", claim.Transaction.ID, claim.Source, reason)
	return nil
}

// claimable reports whether the row can be claimed right now: pending always,
// in_progress only once the holder's claim has gone stale.
func (e *Engine) claimable(txn *models.Transaction, now time.Time) bool {
	switch txn.Status {
	case models.TransactionStatusPending:
		return true
	case models.TransactionStatusInProgress:
		if txn.ProcessingStartedAt == nil {
			return true
		}
		return now.Sub(*txn.ProcessingStartedAt) >= e.cfg.StaleClaim
	}
	return false
}

// recordRaceLoss writes the derived race bookkeeping for the losing side:
// the winner read from the current row plus a deferred-audit transition.
func (e *Engine) recordRaceLoss(txn *models.Transaction, loserSource string) {
	winner := txn.ProcessingSource
	if err := e.repo.SetRaceConditionWinner(txn.ID, winner); err != nil {
		log.Errorf("[Reconcile] txn %d race winner bookkeeping failed: %v", txn.ID, err)
	}
	if err := e.repo.AppendStatusTransition(&models.TransactionStatusTransition{
		TransactionID: txn.ID,
		FromStatus:    txn.Status,
		ToStatus:      txn.Status,
		Source:        transitionSource(loserSource),
		Reason:        fmt.Sprintf("deferred: claim held by %s", winner),
	}); err != nil {
		log.Errorf("[Reconcile] txn %d race loss audit append failed: %v", txn.ID, err)
	}
	e.stats.Incr(StatClaimLost)
	log.Infof("[Reconcile] txn %d claim lost by %s to %s", txn.ID, loserSource, winner)
}

func transitionSource(source string) string {
	switch source {
	case models.ProcessingSourceWebhook:
		return models.TransitionSourceWebhook
	case models.ProcessingSourcePolling:
		return models.TransitionSourcePolling
	case models.TransitionSourceExpiryReaper:
		return models.TransitionSourceExpiryReaper
	}
	return models.TransitionSourceSystem
}
