package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/coursefox/paycore/app/models"
	"github.com/coursefox/paycore/internal/pkg/provider"
)

// Gateway is the narrow provider surface the sweeper consumes.
type Gateway interface {
	PaymentStatus(ctx context.Context, providerTxnID string) (provider.Result, error)
}

// Sweeper periodically finds transactions overdue for resolution and races
// for their claim. It is the correctness backstop for webhooks that were
// never delivered, not an optimization.
type Sweeper struct {
	engine  *Engine
	repo    Repository
	gateway Gateway
	cfg     Config
	clock   func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSweeper creates the polling sweeper.
func NewSweeper(engine *Engine, gateway Gateway) *Sweeper {
	return &Sweeper{
		engine:  engine,
		repo:    engine.repo,
		gateway: gateway,
		cfg:     engine.cfg,
		clock:   engine.clock,
	}
}

// Start launches the sweep loop. Safe to call once per Stop cycle.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	log.Infof("[Sweeper] Starting (interval=%s, workers=%d)", s.cfg.PollInterval, s.cfg.SweepWorkers)
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the sweep loop and waits for in-flight workers.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("[Sweeper] Stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.SweepOnce(context.Background()); err != nil {
				log.Errorf("[Sweeper] sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce runs one full sweep: query the candidates, fan them out over the
// worker pool, claim-then-act on each. Exported so operators and tests can
// trigger a sweep without the ticker.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.clock()
	candidates, err := s.repo.ListPollingCandidates(now, s.cfg.RecheckInterval, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	s.engine.stats.Incr(StatSweeps)
	if len(candidates) == 0 {
		return nil
	}
	log.Debugf("[Sweeper] %d candidate(s)", len(candidates))

	jobs := make(chan models.Transaction)
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.SweepWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for txn := range jobs {
				s.process(ctx, txn)
			}
		}()
	}
	for _, txn := range candidates {
		jobs <- txn
	}
	close(jobs)
	wg.Wait()
	return nil
}

// process handles one candidate in isolation. Every branch ends with the
// recheck timestamp touched so the next sweep does not immediately rescan it.
func (s *Sweeper) process(ctx context.Context, txn models.Transaction) {
	defer func() {
		if err := s.repo.TouchLastPollingCheck(txn.ID, s.clock()); err != nil {
			log.Errorf("[Sweeper] txn %d recheck timestamp update failed: %v", txn.ID, err)
		}
	}()

	if txn.ProviderTxnID == nil || *txn.ProviderTxnID == "" {
		// No provider page yet; nothing to poll. The reaper handles it if
		// it never materializes.
		return
	}

	result, claim, err := s.engine.TryClaim(ctx, txn.ID, models.ProcessingSourcePolling)
	if err != nil {
		log.Errorf("[Sweeper] txn %d claim failed: %v", txn.ID, err)
		return
	}
	if result == LostRace {
		return
	}

	remote, err := s.gateway.PaymentStatus(ctx, *txn.ProviderTxnID)
	if err != nil {
		reason := "transient provider error"
		if !errors.Is(err, provider.ErrTransient) {
			reason = "provider error: " + err.Error()
		}
		log.Warnf("[Sweeper] txn %d provider check failed: %v", txn.ID, err)
		if aerr := s.engine.AbandonTransient(ctx, claim, reason); aerr != nil {
			log.Errorf("[Sweeper] txn %d abandon failed: %v", txn.ID, aerr)
		}
		return
	}

	switch remote.Status {
	case provider.StatusSucceeded:
		err = s.engine.Resolve(ctx, claim, Outcome{
			Status:           models.TransactionStatusCompleted,
			Source:           models.ProcessingSourcePolling,
			ProviderResponse: remote.Raw,
		})
	case provider.StatusFailed:
		err = s.engine.Resolve(ctx, claim, Outcome{
			Status:           models.TransactionStatusFailed,
			Source:           models.ProcessingSourcePolling,
			FailureReason:    "provider reported failure",
			ProviderResponse: remote.Raw,
		})
	case provider.StatusCancelled:
		err = s.engine.Resolve(ctx, claim, Outcome{
			Status:           models.TransactionStatusCancelled,
			Source:           models.ProcessingSourcePolling,
			FailureReason:    "provider reported cancellation",
			ProviderResponse: remote.Raw,
		})
	case provider.StatusNotFound:
		err = s.engine.Abandon(ctx, claim, "unknown at provider")
	default: // still pending at the provider
		err = s.engine.Abandon(ctx, claim, "still pending at provider")
	}
	if err != nil {
		log.Errorf("[Sweeper] txn %d finalize failed: %v", txn.ID, err)
	}
}
