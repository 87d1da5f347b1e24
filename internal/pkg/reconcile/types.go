package reconcile

import (
	"errors"
	"strconv"
	"time"

	"github.com/coursefox/paycore/app/models"
	"github.com/coursefox/paycore/internal/pkg/env"
)

// ClaimResult is the outcome of a TryClaim attempt.
type ClaimResult int

const (
	// Claimed means the caller now holds the exclusive right to finalize
	// the transaction and must call Resolve or Abandon.
	Claimed ClaimResult = iota
	// LostRace means another processor holds the claim or already resolved
	// the transaction. Losing is an expected outcome, never an error.
	LostRace
)

func (r ClaimResult) String() string {
	if r == Claimed {
		return "claimed"
	}
	return "lost_race"
}

// Claim is the token handed to a successful TryClaim caller. Version is the
// optimistic-lock value written by the claim; Resolve and Abandon key their
// conditional writes on it.
type Claim struct {
	Transaction *models.Transaction
	Source      string
	Version     uint
}

// Outcome carries the terminal result a claim holder wants to write.
type Outcome struct {
	Status           string
	Source           string
	FailureReason    string
	ProviderResponse string
}

// InboundEvent is the normalized shape of one provider webhook delivery.
type InboundEvent struct {
	ProviderEventID string `validate:"required,max=191"`
	ProviderTxnID   string `validate:"required,max=191"`
	EventType       string `validate:"required,max=100"`
	ClaimedStatus   string `validate:"required,oneof=succeeded failed cancelled pending not_found"`
	Payload         []byte `validate:"required"`
	Signature       string
	SenderAddr      string
	SenderHeaders   string
}

// ErrStorageConflict is returned when a conditional write that the caller
// believed it was entitled to make did not apply. Callers treat it as a
// signal to re-read, never as data loss.
var ErrStorageConflict = errors.New("conditional write did not apply")

// CompletionHook is invoked after a transaction commits as completed. It runs
// outside the resolve unit of work; failures are logged, never rolled back.
type CompletionHook func(txn *models.Transaction)

// Stats receives counter increments for reconciliation outcomes. Derived
// observability only; nothing in the engine reads these back.
type Stats interface {
	Incr(name string)
}

type noopStats struct{}

func (noopStats) Incr(string) {}

// Counter names reported through Stats.
const (
	StatWebhookReceived     = "webhook_received"
	StatWebhookDuplicate    = "webhook_duplicate"
	StatWebhookBadSignature = "webhook_bad_signature"
	StatWebhookUnknownTxn   = "webhook_unknown_txn"
	StatClaimWon            = "claim_won"
	StatClaimLost           = "claim_lost"
	StatResolved            = "resolved"
	StatAbandoned           = "abandoned"
	StatSweeps              = "sweeps"
	StatReaped              = "reaped"
	StatActivations         = "activations"
)

// Config collects the reconciler tunables. Everything is passed explicitly
// into constructors so tests can run with short durations and fake clocks.
type Config struct {
	PollInterval          time.Duration
	ReapInterval          time.Duration
	StaleClaim            time.Duration
	RecheckInterval       time.Duration
	DefaultExpiry         time.Duration
	MaxProcessingAttempts int
	SweepWorkers          int
	SweepBatchSize        int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:          60 * time.Second,
		ReapInterval:          5 * time.Minute,
		StaleClaim:            2 * time.Minute,
		RecheckInterval:       30 * time.Second,
		DefaultExpiry:         30 * time.Minute,
		MaxProcessingAttempts: 3,
		SweepWorkers:          4,
		SweepBatchSize:        100,
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// the defaults for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = envSeconds("RECON_POLL_INTERVAL_SECONDS", cfg.PollInterval)
	cfg.ReapInterval = envSeconds("RECON_REAP_INTERVAL_SECONDS", cfg.ReapInterval)
	cfg.StaleClaim = envSeconds("RECON_STALE_CLAIM_SECONDS", cfg.StaleClaim)
	cfg.RecheckInterval = envSeconds("RECON_POLL_RECHECK_SECONDS", cfg.RecheckInterval)
	if v, err := strconv.Atoi(env.GetEnv("RECON_DEFAULT_EXPIRY_MINUTES", "")); err == nil && v > 0 {
		cfg.DefaultExpiry = time.Duration(v) * time.Minute
	}
	if v, err := strconv.Atoi(env.GetEnv("RECON_MAX_PROCESSING_ATTEMPTS", "")); err == nil && v > 0 {
		cfg.MaxProcessingAttempts = v
	}
	if v, err := strconv.Atoi(env.GetEnv("RECON_SWEEP_WORKERS", "")); err == nil && v > 0 {
		cfg.SweepWorkers = v
	}
	if v, err := strconv.Atoi(env.GetEnv("RECON_SWEEP_BATCH", "")); err == nil && v > 0 {
		cfg.SweepBatchSize = v
	}
	return cfg
}

func envSeconds(key string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(env.GetEnv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}
