package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coursefox/paycore/app/models"
)

// fakeRepo is an in-memory Repository with real compare-and-swap semantics on
// the transaction lock version, so the claim races behave like they do against
// MySQL.
type fakeRepo struct {
	mu sync.Mutex

	txns        map[uint]*models.Transaction
	transitions []models.TransactionStatusTransition
	events      []*models.WebhookEvent
	plans       map[uint]*models.Plan
	users       map[uint]*models.User
	subs        []*models.Subscription
	subHistory  []models.SubscriptionHistory
	purchases   []*models.Purchase

	nextTxnID      uint
	nextEventID    uint
	nextSubID      uint
	nextPurchaseID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		txns:  make(map[uint]*models.Transaction),
		plans: make(map[uint]*models.Plan),
		users: make(map[uint]*models.User),
	}
}

func (f *fakeRepo) InTransaction(fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeRepo) GetTransaction(id uint) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepo) GetTransactionByPublicID(publicID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if t.PublicID == publicID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetTransactionByProviderTxnID(providerTxnID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if t.ProviderTxnID != nil && *t.ProviderTxnID == providerTxnID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) CreateTransaction(t *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTxnID++
	t.ID = f.nextTxnID
	cp := *t
	f.txns[t.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateTransactionCAS(id, expectedVersion uint, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[id]
	if !ok || t.LockVersion != expectedVersion {
		return false, nil
	}
	applyTxnUpdates(t, updates)
	return true, nil
}

func applyTxnUpdates(t *models.Transaction, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			t.Status = v.(string)
		case "processing_source":
			t.ProcessingSource = v.(string)
		case "processing_attempts":
			t.ProcessingAttempts = v.(int)
		case "processing_started_at":
			if v == nil {
				t.ProcessingStartedAt = nil
			} else {
				t.ProcessingStartedAt = v.(*time.Time)
			}
		case "processing_completed_at":
			t.ProcessingCompletedAt = v.(*time.Time)
		case "webhook_received_at":
			t.WebhookReceivedAt = v.(*time.Time)
		case "lock_version":
			t.LockVersion = v.(uint)
		case "failure_reason":
			reason := v.(string)
			t.FailureReason = &reason
		case "provider_response":
			t.ProviderResponse = v.(string)
		case "provider_txn_id":
			ref := v.(string)
			t.ProviderTxnID = &ref
		}
	}
}

func (f *fakeRepo) TouchLastPollingCheck(id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.txns[id]; ok {
		ts := at
		t.LastPollingCheckAt = &ts
	}
	return nil
}

func (f *fakeRepo) SetRaceConditionWinner(id uint, winner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.txns[id]; ok {
		t.RaceConditionWinner = winner
	}
	return nil
}

func (f *fakeRepo) AppendStatusTransition(tr *models.TransactionStatusTransition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr.ID = uint(len(f.transitions) + 1)
	f.transitions = append(f.transitions, *tr)
	return nil
}

func (f *fakeRepo) ListStatusTransitions(transactionID uint) ([]models.TransactionStatusTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TransactionStatusTransition
	for _, tr := range f.transitions {
		if tr.TransactionID == transactionID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListPollingCandidates(now time.Time, recheck time.Duration, limit int) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := now.Add(-recheck)
	var out []models.Transaction
	for _, t := range f.txns {
		if t.Status != models.TransactionStatusPending && t.Status != models.TransactionStatusInProgress {
			continue
		}
		if !t.ExpiresAt.After(now) {
			continue
		}
		if t.LastPollingCheckAt != nil && !t.LastPollingCheckAt.Before(cutoff) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) ListExpiredTransactions(now time.Time, limit int) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.txns {
		if t.Status != models.TransactionStatusPending && t.Status != models.TransactionStatusInProgress {
			continue
		}
		if t.ExpiresAt.After(now) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.Provider == e.Provider && ev.ProviderEventID == e.ProviderEventID {
			cp := *ev
			return false, &cp, nil
		}
	}
	f.nextEventID++
	e.ID = f.nextEventID
	cp := *e
	f.events = append(f.events, &cp)
	out := cp
	return true, &out, nil
}

func (f *fakeRepo) GetWebhookEvent(provider, providerEventID string) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.Provider == provider && ev.ProviderEventID == providerEventID {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) UpdateWebhookEvent(id uint, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.ID != id {
			continue
		}
		for k, v := range updates {
			switch k {
			case "status":
				ev.Status = v.(string)
			case "error_message":
				ev.ErrorMessage = v.(string)
			case "signature_valid":
				ev.SignatureValid = v.(bool)
			case "transaction_id":
				txnID := v.(uint)
				ev.TransactionID = &txnID
			case "processed_at":
				ev.ProcessedAt = v.(*time.Time)
			case "processing_duration_ms":
				ev.ProcessingDurationMS = v.(int64)
			}
		}
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetPlan(id uint) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetUser(id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) GetLiveSubscription(userID, planID uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.UserID == userID && s.PlanID == planID && s.IsLive() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) CreateSubscription(s *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubID++
	s.ID = f.nextSubID
	cp := *s
	f.subs = append(f.subs, &cp)
	return nil
}

func (f *fakeRepo) AppendSubscriptionHistory(h *models.SubscriptionHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID = uint(len(f.subHistory) + 1)
	f.subHistory = append(f.subHistory, *h)
	return nil
}

func (f *fakeRepo) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, s := range f.subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreatePurchaseIfNotExists(p *models.Purchase) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.purchases {
		if existing.UserID == p.UserID && existing.TransactionID == p.TransactionID {
			return false, nil
		}
	}
	f.nextPurchaseID++
	p.ID = f.nextPurchaseID
	cp := *p
	f.purchases = append(f.purchases, &cp)
	return true, nil
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingStats counts Incr calls per name.
type recordingStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingStats() *recordingStats {
	return &recordingStats{counts: make(map[string]int)}
}

func (s *recordingStats) Incr(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name]++
}

func (s *recordingStats) get(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

func newTestEngine(cfg Config) (*Engine, *fakeRepo, *fakeClock) {
	repo := newFakeRepo()
	clock := newFakeClock()
	engine := NewEngine(repo, cfg)
	engine.SetClock(clock.Now)
	return engine, repo, clock
}

func seedUser(repo *fakeRepo, id uint) *models.User {
	u := &models.User{ID: id, Email: "user@example.com", Name: "Test User", IsActive: true}
	repo.users[id] = u
	return u
}

func seedPlan(repo *fakeRepo, id uint, interval string, price string) *models.Plan {
	p := &models.Plan{
		ID:       id,
		Name:     "plan-" + interval,
		Price:    decimal.RequireFromString(price),
		Currency: "EUR",
		Interval: interval,
		IsActive: true,
	}
	repo.plans[id] = p
	return p
}

func seedPendingTxn(repo *fakeRepo, clock *fakeClock, userID, planID uint, providerTxnID string, ttl time.Duration) *models.Transaction {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.nextTxnID++
	t := &models.Transaction{
		ID:               repo.nextTxnID,
		PublicID:         "pub-" + providerTxnID,
		UserID:           userID,
		PlanID:           planID,
		Amount:           decimal.RequireFromString("9.99"),
		Currency:         "EUR",
		Status:           models.TransactionStatusPending,
		ProcessingSource: models.ProcessingSourceNone,
		ExpiresAt:        clock.Now().Add(ttl),
	}
	if providerTxnID != "" {
		ref := providerTxnID
		t.ProviderTxnID = &ref
	}
	repo.txns[t.ID] = t
	return t
}
