package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/coursefox/paycore/app/models"
)

// SignatureVerifier checks one raw delivery against its signature header.
type SignatureVerifier func(payload []byte, signature string) bool

// ReplayGuard is an optional fast-path for webhook replay detection in front
// of the unique-index insert. The database remains the source of truth.
type ReplayGuard interface {
	Seen(provider, eventID string) bool
	MarkSeen(provider, eventID string)
}

// Receipt tells the ingress controller what happened to one delivery.
type Receipt struct {
	EventID        uint
	Duplicate      bool
	SignatureValid bool
	Outcome        string
}

// Receipt outcomes.
const (
	OutcomeResolved           = "resolved"
	OutcomeDuplicate          = "duplicate"
	OutcomeMalformed          = "malformed"
	OutcomeInvalidSignature   = "invalid_signature"
	OutcomeUnknownTransaction = "unknown_transaction"
	OutcomeAlreadyResolved    = "already_resolved"
	OutcomeNoop               = "noop"
)

// Intake drives the webhook half of the reconciliation protocol: persist the
// raw delivery first, verify it, then race for the claim.
type Intake struct {
	engine   *Engine
	repo     Repository
	verify   SignatureVerifier
	guard    ReplayGuard
	provider string
	validate *validator.Validate
}

// NewIntake creates the webhook intake for one provider.
func NewIntake(engine *Engine, providerName string, verify SignatureVerifier) *Intake {
	return &Intake{
		engine:   engine,
		repo:     engine.repo,
		verify:   verify,
		provider: providerName,
		validate: validator.New(),
	}
}

// SetReplayGuard installs the optional redis fast-path dedup.
func (i *Intake) SetReplayGuard(g ReplayGuard) {
	i.guard = g
}

// Process handles one normalized delivery end to end. An error return means
// the delivery could not be durably recorded or a storage write failed; the
// controller answers 5xx and the provider will redeliver.
func (i *Intake) Process(ctx context.Context, in InboundEvent) (*Receipt, error) {
	start := i.engine.clock()
	i.engine.stats.Incr(StatWebhookReceived)

	// Deliveries without an event id are deduplicated on a payload hash,
	// so a byte-identical redelivery still collides on the unique index.
	if strings.TrimSpace(in.ProviderEventID) == "" {
		sum := sha256.Sum256(in.Payload)
		in.ProviderEventID = "hash:" + hex.EncodeToString(sum[:])
	}

	if i.guard != nil && i.guard.Seen(i.provider, in.ProviderEventID) {
		if ev, err := i.repo.GetWebhookEvent(i.provider, in.ProviderEventID); err == nil &&
			ev.Status == models.WebhookEventStatusCompleted {
			i.engine.stats.Incr(StatWebhookDuplicate)
			return &Receipt{EventID: ev.ID, Duplicate: true, SignatureValid: ev.SignatureValid, Outcome: OutcomeDuplicate}, nil
		}
	}

	// Persist the raw delivery before any processing so it is never lost,
	// even if everything after this point crashes.
	created, stored, err := i.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        i.provider,
		ProviderEventID: in.ProviderEventID,
		EventType:       in.EventType,
		PayloadJSON:     string(in.Payload),
		SenderAddr:      in.SenderAddr,
		SenderHeaders:   in.SenderHeaders,
		Status:          models.WebhookEventStatusReceived,
	})
	if err != nil {
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	if !created && stored.Status == models.WebhookEventStatusCompleted {
		i.engine.stats.Incr(StatWebhookDuplicate)
		log.Infof("[WebhookIntake] event %s redelivered, already completed", in.ProviderEventID)
		return &Receipt{EventID: stored.ID, Duplicate: true, SignatureValid: stored.SignatureValid, Outcome: OutcomeDuplicate}, nil
	}

	if err := i.validate.Struct(in); err != nil {
		i.markFailed(stored.ID, "malformed event: "+err.Error())
		return &Receipt{EventID: stored.ID, Outcome: OutcomeMalformed}, nil
	}

	sigValid := i.verify(in.Payload, in.Signature)
	if uerr := i.repo.UpdateWebhookEvent(stored.ID, map[string]interface{}{"signature_valid": sigValid}); uerr != nil {
		log.Errorf("[WebhookIntake] event %d signature flag update failed: %v", stored.ID, uerr)
	}
	if !sigValid {
		i.engine.stats.Incr(StatWebhookBadSignature)
		i.markFailed(stored.ID, "invalid webhook signature")
		return &Receipt{EventID: stored.ID, Outcome: OutcomeInvalidSignature}, nil
	}

	txn, err := i.repo.GetTransactionByProviderTxnID(in.ProviderTxnID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Expected under out-of-order delivery; not escalated.
			i.engine.stats.Incr(StatWebhookUnknownTxn)
			i.markFailed(stored.ID, "unknown transaction")
			log.Infof("[WebhookIntake] event %s references unknown transaction %s", in.ProviderEventID, in.ProviderTxnID)
			return &Receipt{EventID: stored.ID, SignatureValid: true, Outcome: OutcomeUnknownTransaction}, nil
		}
		i.markFailed(stored.ID, err.Error())
		return nil, err
	}

	if uerr := i.repo.UpdateWebhookEvent(stored.ID, map[string]interface{}{
		"status":         models.WebhookEventStatusProcessing,
		"transaction_id": txn.ID,
	}); uerr != nil {
		log.Errorf("[WebhookIntake] event %d processing flag update failed: %v", stored.ID, uerr)
	}

	// A delivery that only says "still pending", or whose status the
	// provider does not know yet, finalizes nothing.
	if in.ClaimedStatus == "pending" || in.ClaimedStatus == "not_found" {
		i.markCompleted(stored.ID, txn.ID, start)
		return &Receipt{EventID: stored.ID, SignatureValid: true, Outcome: OutcomeNoop}, nil
	}

	result, claim, err := i.engine.TryClaim(ctx, txn.ID, models.ProcessingSourceWebhook)
	if err != nil {
		i.markFailed(stored.ID, err.Error())
		return nil, err
	}
	if result == LostRace {
		// Another processor owns or already finalized this transaction.
		// Acknowledge the provider anyway; redelivery would change nothing.
		i.markCompleted(stored.ID, txn.ID, start)
		return &Receipt{EventID: stored.ID, SignatureValid: true, Outcome: OutcomeAlreadyResolved}, nil
	}

	if err := i.engine.Resolve(ctx, claim, Outcome{
		Status:           mapClaimedStatus(in.ClaimedStatus),
		Source:           models.ProcessingSourceWebhook,
		FailureReason:    failureReasonFor(in.ClaimedStatus),
		ProviderResponse: string(in.Payload),
	}); err != nil {
		// The stale-claim timeout makes the held claim reclaimable, so a
		// storage failure here only delays resolution.
		i.markFailed(stored.ID, err.Error())
		return nil, err
	}

	i.markCompleted(stored.ID, txn.ID, start)
	if i.guard != nil {
		i.guard.MarkSeen(i.provider, in.ProviderEventID)
	}
	return &Receipt{EventID: stored.ID, SignatureValid: true, Outcome: OutcomeResolved}, nil
}

func (i *Intake) markFailed(eventID uint, reason string) {
	now := i.engine.clock()
	if err := i.repo.UpdateWebhookEvent(eventID, map[string]interface{}{
		"status":        models.WebhookEventStatusFailed,
		"error_message": reason,
		"processed_at":  &now,
	}); err != nil {
		log.Errorf("[WebhookIntake] event %d failure update failed: %v", eventID, err)
	}
}

func (i *Intake) markCompleted(eventID, txnID uint, start time.Time) {
	now := i.engine.clock()
	if err := i.repo.UpdateWebhookEvent(eventID, map[string]interface{}{
		"status":                 models.WebhookEventStatusCompleted,
		"transaction_id":         txnID,
		"processed_at":           &now,
		"processing_duration_ms": now.Sub(start).Milliseconds(),
	}); err != nil {
		log.Errorf("[WebhookIntake] event %d completion update failed: %v", eventID, err)
	}
}

func mapClaimedStatus(claimed string) string {
	switch claimed {
	case "succeeded":
		return models.TransactionStatusCompleted
	case "cancelled":
		return models.TransactionStatusCancelled
	default:
		return models.TransactionStatusFailed
	}
}

func failureReasonFor(claimed string) string {
	switch claimed {
	case "failed":
		return "provider reported failure"
	case "cancelled":
		return "provider reported cancellation"
	}
	return ""
}
