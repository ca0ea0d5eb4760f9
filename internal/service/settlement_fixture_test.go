package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/payment/paypal"
	"github.com/bookd-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type settlementFixture struct {
	db           *gorm.DB
	requestRepo  *repository.GormEarlyPayRequestRepository
	brokerRepo   *repository.GormBrokerRepository
	truckerRepo  *repository.GormTruckerRepository
	earningsRepo *repository.GormEarningsRepository
	auditRepo    *repository.GormPayoutAuditRepository
	policy       SettlementPolicy
	ledger       *EarningsLedger
	gateway      *fakeGateway
	clock        *stepClock
}

func setupSettlementTest(t *testing.T) *settlementFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:settlement_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db

	f := &settlementFixture{
		db:           db,
		requestRepo:  repository.NewEarlyPayRequestRepository(db),
		brokerRepo:   repository.NewBrokerRepository(db),
		truckerRepo:  repository.NewTruckerRepository(db),
		earningsRepo: repository.NewEarningsRepository(db),
		auditRepo:    repository.NewPayoutAuditRepository(db),
		policy:       DefaultSettlementPolicy(),
		gateway:      newFakeGateway(),
		clock:        newStepClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	}
	f.ledger = NewEarningsLedger(f.earningsRepo, f.truckerRepo, f.policy)
	f.ledger.now = f.clock.Now
	return f
}

// failUpdates 打开后所有 UPDATE 语句返回错误，用于模拟存储抖动
func (f *settlementFixture) failUpdates(t *testing.T) *atomic.Bool {
	t.Helper()
	failing := &atomic.Bool{}
	err := f.db.Callback().Update().Before("gorm:update").Register("test:fail_updates", func(tx *gorm.DB) {
		if failing.Load() {
			_ = tx.AddError(errors.New("transient db error"))
		}
	})
	if err != nil {
		t.Fatalf("register update callback failed: %v", err)
	}
	return failing
}

func (f *settlementFixture) newEarlyPayService() *EarlyPayService {
	svc := NewEarlyPayService(f.requestRepo, f.brokerRepo, f.truckerRepo, NewFeeCalculator(f.policy), f.policy, nil, false)
	svc.now = f.clock.Now
	return svc
}

func (f *settlementFixture) newPayoutService() *PayoutService {
	svc := NewPayoutService(f.requestRepo, f.brokerRepo, f.truckerRepo, f.auditRepo, f.ledger, f.gateway, PayoutServiceOptions{Currency: "USD"})
	svc.now = f.clock.Now
	return svc
}

func (f *settlementFixture) newCashOutService() *EarningsCashOutService {
	svc := NewEarningsCashOutService(f.earningsRepo, f.truckerRepo, f.gateway, nil, PayoutServiceOptions{Currency: "USD"})
	svc.now = f.clock.Now
	return svc
}

func (f *settlementFixture) newWebhookService(verifier WebhookVerifier, payouts *PayoutService, cashOut *EarningsCashOutService) *PayoutWebhookService {
	var funding FundingCommitter
	if payouts != nil {
		funding = payouts
	}
	var settler CashOutSettler
	if cashOut != nil {
		settler = cashOut
	}
	svc := NewPayoutWebhookService(f.requestRepo, f.auditRepo, verifier, funding, settler)
	svc.now = f.clock.Now
	return svc
}

func (f *settlementFixture) createBroker(t *testing.T, tier constants.BrokerTier, referrer *uint) *models.Broker {
	t.Helper()
	now := f.clock.Now()
	broker := &models.Broker{
		Name:                "broker-" + string(tier),
		Email:               fmt.Sprintf("broker_%d@example.com", now.UnixNano()),
		Tier:                tier,
		TotalEarned:         models.ZeroMoney(),
		ReferredByTruckerID: referrer,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := f.brokerRepo.Create(broker); err != nil {
		t.Fatalf("create broker failed: %v", err)
	}
	return broker
}

func (f *settlementFixture) createTrucker(t *testing.T, method constants.PayoutMethod, credit string, recruiter *uint) *models.Trucker {
	t.Helper()
	now := f.clock.Now()
	trucker := &models.Trucker{
		Name:                 "trucker",
		Email:                fmt.Sprintf("trucker_%d@example.com", now.UnixNano()),
		PayoutMethod:         method,
		BonusCreditRemaining: models.NewMoneyFromDecimal(decimal.RequireFromString(credit)),
		BonusCreditUsed:      models.ZeroMoney(),
		RecruiterID:          recruiter,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	switch method {
	case constants.PayoutMethodPayPal:
		trucker.PaypalEmail = fmt.Sprintf("payee_%d@example.com", now.UnixNano())
	case constants.PayoutMethodVenmo:
		trucker.VenmoHandle = fmt.Sprintf("@payee-%d", now.UnixNano())
	}
	if err := f.truckerRepo.Create(trucker); err != nil {
		t.Fatalf("create trucker failed: %v", err)
	}
	return trucker
}

func (f *settlementFixture) createApprovedRequest(t *testing.T, truckerID, brokerID uint, amount string) *models.EarlyPayRequest {
	t.Helper()
	lifecycle := f.newEarlyPayService()
	req, err := lifecycle.CreateRequest(CreateEarlyPayInput{
		TruckerID:     truckerID,
		BrokerID:      brokerID,
		LoadReference: fmt.Sprintf("LOAD-%d", f.clock.Now().UnixNano()),
		Amount:        decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	approved, err := lifecycle.ApproveRequest(req.ID, brokerID)
	if err != nil {
		t.Fatalf("approve request failed: %v", err)
	}
	return approved
}

func (f *settlementFixture) reloadRequest(t *testing.T, id uint) *models.EarlyPayRequest {
	t.Helper()
	req, err := f.requestRepo.GetByID(id)
	if err != nil || req == nil {
		t.Fatalf("reload request %d failed: %v", id, err)
	}
	return req
}

func (f *settlementFixture) reloadTrucker(t *testing.T, id uint) *models.Trucker {
	t.Helper()
	trucker, err := f.truckerRepo.GetByID(id)
	if err != nil || trucker == nil {
		t.Fatalf("reload trucker %d failed: %v", id, err)
	}
	return trucker
}

func (f *settlementFixture) reviewFlags(t *testing.T, reason string) []models.PayoutReviewFlag {
	t.Helper()
	rows, _, err := f.auditRepo.ListReviewFlags(repository.ReviewFlagListFilter{Reason: reason})
	if err != nil {
		t.Fatalf("list review flags failed: %v", err)
	}
	return rows
}

func (f *settlementFixture) createPayableEntry(t *testing.T, truckerID, requestID uint, share string) *models.EarningsLedgerEntry {
	t.Helper()
	now := f.clock.Now()
	rid := requestID
	entry := &models.EarningsLedgerEntry{
		TruckerID:        truckerID,
		SourceType:       constants.EarningSourceBrokerFreeFee,
		RequestID:        &rid,
		GrossAmount:      models.NewMoneyFromDecimal(decimal.RequireFromString(share).Mul(decimal.NewFromInt(10))),
		TruckerShare:     models.NewMoneyFromDecimal(decimal.RequireFromString(share)),
		Status:           constants.EarningStatusPayable,
		CollectedAt:      now.Add(-8 * 24 * time.Hour),
		BecomesPayableAt: now.Add(-24 * time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.earningsRepo.CreateEntry(entry); err != nil {
		t.Fatalf("create entry failed: %v", err)
	}
	return entry
}

func assertMoney(t *testing.T, label string, got models.Money, want string) {
	t.Helper()
	if !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: want %s, got %s", label, want, got.String())
	}
}

// stepClock 每次读取前进 1ms，保证生成的幂等键互不相同
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{cur: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

type fakeGateway struct {
	mu        sync.Mutex
	submitErr error
	batchSeq  int
	submitted []paypal.TransferInput
	batches   map[string]*paypal.BatchStatus
	accepted  map[string]string
	batchErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		batches:  map[string]*paypal.BatchStatus{},
		accepted: map[string]string{},
	}
}

func (g *fakeGateway) SubmitTransfer(_ context.Context, input paypal.TransferInput) (*paypal.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, input)
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	if batchID, ok := g.accepted[input.IdempotencyKey]; ok {
		return &paypal.TransferResult{BatchID: batchID, BatchStatus: "PENDING"}, nil
	}
	g.batchSeq++
	batchID := fmt.Sprintf("BATCH-%d", g.batchSeq)
	g.accepted[input.IdempotencyKey] = batchID
	g.batches[batchID] = &paypal.BatchStatus{BatchID: batchID, SenderBatchID: input.IdempotencyKey, Status: "PENDING"}
	return &paypal.TransferResult{BatchID: batchID, BatchStatus: "PENDING"}, nil
}

func (g *fakeGateway) GetPayoutBatch(_ context.Context, batchID string) (*paypal.BatchStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.batchErr != nil {
		return nil, g.batchErr
	}
	batch, ok := g.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s not found", paypal.ErrRequestFailed, batchID)
	}
	copied := *batch
	return &copied, nil
}

func (g *fakeGateway) setSubmitErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr = err
}

func (g *fakeGateway) setBatch(batchID, status string, items ...paypal.BatchItem) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches[batchID] = &paypal.BatchStatus{BatchID: batchID, Status: status, Items: items}
}

func (g *fakeGateway) calls() []paypal.TransferInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]paypal.TransferInput(nil), g.submitted...)
}
