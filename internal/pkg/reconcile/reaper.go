package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/coursefox/paycore/app/models"
)

// Reaper force-terminates transactions that outlived their resolution window
// without provider confirmation. It guarantees no transaction stays
// non-terminal forever, even with polling disabled and no webhook ever
// delivered. It races the other producers through the same claim protocol.
type Reaper struct {
	engine *Engine
	repo   Repository
	cfg    Config
	clock  func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewReaper creates the expiry reaper.
func NewReaper(engine *Engine) *Reaper {
	return &Reaper{
		engine: engine,
		repo:   engine.repo,
		cfg:    engine.cfg,
		clock:  engine.clock,
	}
}

// Start launches the reap loop.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	log.Infof("[Reaper] Starting (interval=%s)", r.cfg.ReapInterval)
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the reap loop.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	log.Info("[Reaper] Stopped")
}

func (r *Reaper) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.ReapOnce(context.Background()); err != nil {
				log.Errorf("[Reaper] reap failed: %v", err)
			}
		}
	}
}

// ReapOnce expires every transaction whose deadline has passed. Exported for
// operators and tests.
func (r *Reaper) ReapOnce(ctx context.Context) error {
	now := r.clock()
	expired, err := r.repo.ListExpiredTransactions(now, r.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	for _, txn := range expired {
		r.reap(ctx, txn)
	}
	return nil
}

func (r *Reaper) reap(ctx context.Context, txn models.Transaction) {
	// The reaper claims through the polling source; the audit transition
	// below still records expiry_reaper as the actor.
	result, claim, err := r.engine.TryClaim(ctx, txn.ID, models.ProcessingSourcePolling)
	if err != nil {
		log.Errorf("[Reaper] txn %d claim failed: %v", txn.ID, err)
		return
	}
	if result == LostRace {
		return
	}

	if err := r.engine.Resolve(ctx, claim, Outcome{
		Status:        models.TransactionStatusExpired,
		Source:        models.TransitionSourceExpiryReaper,
		FailureReason: "resolution window elapsed",
	}); err != nil {
		log.Errorf("[Reaper] txn %d expire failed: %v", txn.ID, err)
		return
	}
	r.engine.stats.Incr(StatReaped)
	log.Infof("[Reaper] txn %d expired (deadline %s)", txn.ID, txn.ExpiresAt.Format(time.RFC3339))
}
