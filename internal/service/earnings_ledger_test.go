package service

import (
	"errors"
	"testing"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func accrueInTx(t *testing.T, f *settlementFixture, input AccrualInput) *AccrualResult {
	t.Helper()
	var result *AccrualResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.ledger.AccrueBrokerFreeFeeEarning(tx, input)
		return err
	})
	if err != nil {
		t.Fatalf("accrue failed: %v", err)
	}
	return result
}

func TestAccrueBrokerFreeFeeEarning(t *testing.T) {
	f := setupSettlementTest(t)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)
	source := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	collectedAt := f.clock.Now()

	result := accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            101,
		SourceTruckerID:      source.ID,
		TransactionAmount:    decimal.NewFromInt(1000),
		CollectedAt:          collectedAt,
	})
	if result.Entry == nil || result.Capped || result.Existing {
		t.Fatalf("unexpected accrual result: %+v", result)
	}
	assertMoney(t, "gross", result.Entry.GrossAmount, "50.00")
	assertMoney(t, "share", result.Entry.TruckerShare, "5.00")
	if result.Entry.Status != constants.EarningStatusPending {
		t.Fatalf("new entry must be pending, got %s", result.Entry.Status)
	}
	if !result.Entry.BecomesPayableAt.Equal(collectedAt.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected payable at: %s", result.Entry.BecomesPayableAt)
	}
	if result.RecruiterBonus != nil {
		t.Fatalf("beneficiary without recruiter must not produce a bonus")
	}

	again := accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            101,
		TransactionAmount:    decimal.NewFromInt(1000),
		CollectedAt:          collectedAt,
	})
	if !again.Existing || again.Entry.ID != result.Entry.ID {
		t.Fatalf("second accrual for the same request must be idempotent: %+v", again)
	}

	capRow, err := f.earningsRepo.EnsureMonthlyCap(referrer.ID, broker.ID, monthKey(collectedAt), collectedAt)
	if err != nil {
		t.Fatalf("load cap failed: %v", err)
	}
	assertMoney(t, "cap total", capRow.Total, "5.00")
}

func TestAccrueClampsToMonthlyCap(t *testing.T) {
	f := setupSettlementTest(t)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)
	now := f.clock.Now()
	month := monthKey(now)

	capRow, err := f.earningsRepo.EnsureMonthlyCap(referrer.ID, broker.ID, month, now)
	if err != nil {
		t.Fatalf("ensure cap failed: %v", err)
	}
	if ok, err := f.earningsRepo.CompareAndSwapMonthlyCap(capRow.ID, capRow.Version, decimal.NewFromInt(98), now); err != nil || !ok {
		t.Fatalf("seed cap failed: ok=%v err=%v", ok, err)
	}

	clamped := accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            201,
		TransactionAmount:    decimal.NewFromInt(1000),
		CollectedAt:          now,
	})
	if !clamped.Capped || clamped.Entry == nil {
		t.Fatalf("accrual should be clamped: %+v", clamped)
	}
	assertMoney(t, "clamped share", clamped.Entry.TruckerShare, "2.00")
	if !clamped.RawShare.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("raw share should stay 5, got %s", clamped.RawShare.String())
	}

	exhausted := accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            202,
		TransactionAmount:    decimal.NewFromInt(1000),
		CollectedAt:          now,
	})
	if !exhausted.Capped || exhausted.Entry != nil || !exhausted.Amount.IsZero() {
		t.Fatalf("cap reached should skip the entry: %+v", exhausted)
	}

	nextMonth := now.AddDate(0, 1, 0)
	fresh := accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            203,
		TransactionAmount:    decimal.NewFromInt(1000),
		CollectedAt:          nextMonth,
	})
	if fresh.Capped || fresh.Entry == nil {
		t.Fatalf("new month should start a fresh cap: %+v", fresh)
	}
}

func TestCompareAndSwapMonthlyCapRejectsStaleVersion(t *testing.T) {
	f := setupSettlementTest(t)
	now := f.clock.Now()
	row, err := f.earningsRepo.EnsureMonthlyCap(1, 2, monthKey(now), now)
	if err != nil {
		t.Fatalf("ensure cap failed: %v", err)
	}
	if ok, err := f.earningsRepo.CompareAndSwapMonthlyCap(row.ID, row.Version, decimal.NewFromInt(10), now); err != nil || !ok {
		t.Fatalf("first swap should win: ok=%v err=%v", ok, err)
	}
	if ok, err := f.earningsRepo.CompareAndSwapMonthlyCap(row.ID, row.Version, decimal.NewFromInt(20), now); err != nil || ok {
		t.Fatalf("stale version must lose: ok=%v err=%v", ok, err)
	}
	current, err := f.earningsRepo.EnsureMonthlyCap(1, 2, monthKey(now), now)
	if err != nil {
		t.Fatalf("reload cap failed: %v", err)
	}
	assertMoney(t, "cap total", current.Total, "10.00")
	if current.Version != row.Version+1 {
		t.Fatalf("unexpected version %d", current.Version)
	}
}

// interleavingEarningsRepo 在首次 CAS 前以同一版本号抢先写入，模拟并发计提
type interleavingEarningsRepo struct {
	repository.EarningsRepository
	competing decimal.Decimal
	fired     *int
}

func (r *interleavingEarningsRepo) WithTx(tx *gorm.DB) repository.EarningsRepository {
	return &interleavingEarningsRepo{EarningsRepository: r.EarningsRepository.WithTx(tx), competing: r.competing, fired: r.fired}
}

func (r *interleavingEarningsRepo) CompareAndSwapMonthlyCap(id uint, expectedVersion int64, newTotal decimal.Decimal, now time.Time) (bool, error) {
	if *r.fired == 0 {
		*r.fired++
		ok, err := r.EarningsRepository.CompareAndSwapMonthlyCap(id, expectedVersion, r.competing, now)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errors.New("competing writer lost its swap")
		}
	}
	return r.EarningsRepository.CompareAndSwapMonthlyCap(id, expectedVersion, newTotal, now)
}

func TestAccrueRetryReclampsAfterConcurrentCapWrite(t *testing.T) {
	f := setupSettlementTest(t)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)
	now := f.clock.Now()

	fired := 0
	repo := &interleavingEarningsRepo{EarningsRepository: f.earningsRepo, competing: decimal.NewFromInt(97), fired: &fired}
	ledger := NewEarningsLedger(repo, f.truckerRepo, f.policy)
	ledger.now = f.clock.Now

	var result *AccrualResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = ledger.AccrueBrokerFreeFeeEarning(tx, AccrualInput{
			BeneficiaryTruckerID: referrer.ID,
			BrokerID:             broker.ID,
			RequestID:            301,
			TransactionAmount:    decimal.NewFromInt(1000),
			CollectedAt:          now,
		})
		return err
	})
	if err != nil {
		t.Fatalf("accrue failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("competing write should fire once, got %d", fired)
	}
	if result.Entry == nil || !result.Capped {
		t.Fatalf("retry should re-clamp against the competing total: %+v", result)
	}
	assertMoney(t, "re-clamped share", result.Entry.TruckerShare, "3.00")

	capRow, err := f.earningsRepo.EnsureMonthlyCap(referrer.ID, broker.ID, monthKey(now), now)
	if err != nil {
		t.Fatalf("load cap failed: %v", err)
	}
	assertMoney(t, "cap total", capRow.Total, "100.00")
	if capRow.Total.GreaterThan(f.policy.MonthlyCap) {
		t.Fatalf("cap total %s exceeds monthly cap", capRow.Total.String())
	}
	if capRow.Version != 2 {
		t.Fatalf("both writers should bump the version, got %d", capRow.Version)
	}
}

func TestRecruiterBonusCascadesOneLevel(t *testing.T) {
	f := setupSettlementTest(t)
	grandRecruiter := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	recruiter := f.createTrucker(t, constants.PayoutMethodPayPal, "0", &grandRecruiter.ID)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", &recruiter.ID)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)

	result := accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            301,
		TransactionAmount:    decimal.NewFromInt(1000),
		CollectedAt:          f.clock.Now(),
	})
	bonus := result.RecruiterBonus
	if bonus == nil {
		t.Fatalf("recruiter bonus expected")
	}
	if bonus.TruckerID != recruiter.ID || bonus.SourceType != constants.EarningSourceRecruiterBonus {
		t.Fatalf("unexpected bonus entry: %+v", bonus)
	}
	assertMoney(t, "bonus", bonus.TruckerShare, "0.50")
	if bonus.SourceEntryID == nil || *bonus.SourceEntryID != result.Entry.ID {
		t.Fatalf("bonus must point at its source entry")
	}

	grandEntries, _, err := f.earningsRepo.ListEntries(repository.EarningsEntryListFilter{TruckerID: grandRecruiter.ID})
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(grandEntries) != 0 {
		t.Fatalf("bonus must not cascade past one level, got %d entries", len(grandEntries))
	}
}

func TestMatureDueEntriesAndBalance(t *testing.T) {
	f := setupSettlementTest(t)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)
	collectedAt := f.clock.Now()
	accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            401,
		TransactionAmount:    decimal.NewFromInt(2000),
		CollectedAt:          collectedAt,
	})

	balance, err := f.ledger.GetPayableBalance(referrer.ID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	assertMoney(t, "pending", balance.Pending, "10.00")
	assertMoney(t, "payable", balance.Payable, "0.00")

	if affected, err := f.ledger.MatureDueEntries(collectedAt.Add(6 * 24 * time.Hour)); err != nil || affected != 0 {
		t.Fatalf("entries must not mature early: affected=%d err=%v", affected, err)
	}
	affected, err := f.ledger.MatureDueEntries(collectedAt.Add(7*24*time.Hour + time.Minute))
	if err != nil || affected != 1 {
		t.Fatalf("entry should mature: affected=%d err=%v", affected, err)
	}
	if affected, err := f.ledger.MatureDueEntries(collectedAt.Add(8 * 24 * time.Hour)); err != nil || affected != 0 {
		t.Fatalf("maturation must be idempotent: affected=%d err=%v", affected, err)
	}

	balance, err = f.ledger.GetPayableBalance(referrer.ID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	assertMoney(t, "pending after maturation", balance.Pending, "0.00")
	assertMoney(t, "payable after maturation", balance.Payable, "10.00")
	assertMoney(t, "total", balance.Total, "10.00")
}

func TestClawBackRequestEarnings(t *testing.T) {
	f := setupSettlementTest(t)
	recruiter := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", &recruiter.ID)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)
	collectedAt := f.clock.Now()
	result := accrueInTx(t, f, AccrualInput{
		BeneficiaryTruckerID: referrer.ID,
		BrokerID:             broker.ID,
		RequestID:            501,
		TransactionAmount:    decimal.NewFromInt(1000),
		CollectedAt:          collectedAt,
	})

	clawback, err := f.ledger.ClawBackRequestEarnings(501, "chargeback")
	if err != nil {
		t.Fatalf("clawback failed: %v", err)
	}
	if len(clawback.ClawedBack) != 2 || len(clawback.Skipped) != 0 {
		t.Fatalf("direct and cascaded entries should be clawed back: %+v", clawback)
	}

	var entry models.EarningsLedgerEntry
	if err := f.db.First(&entry, result.Entry.ID).Error; err != nil {
		t.Fatalf("reload entry failed: %v", err)
	}
	if entry.Status != constants.EarningStatusClawedBack || entry.ClawbackReason != "chargeback" || entry.ClawedBackAt == nil {
		t.Fatalf("unexpected clawed entry: %+v", entry)
	}
	capRow, err := f.earningsRepo.EnsureMonthlyCap(referrer.ID, broker.ID, monthKey(collectedAt), collectedAt)
	if err != nil {
		t.Fatalf("load cap failed: %v", err)
	}
	assertMoney(t, "cap after clawback", capRow.Total, "0.00")

	again, err := f.ledger.ClawBackRequestEarnings(501, "chargeback")
	if err != nil {
		t.Fatalf("repeat clawback failed: %v", err)
	}
	if len(again.ClawedBack) != 0 {
		t.Fatalf("repeat clawback must be a no-op: %+v", again)
	}
}

func TestClawBackSkipsReservedEntries(t *testing.T) {
	f := setupSettlementTest(t)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	entry := f.createPayableEntry(t, trucker.ID, 601, "4.00")
	if _, err := f.earningsRepo.ReserveEntries([]uint{entry.ID}, 99, f.clock.Now()); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	result, err := f.ledger.ClawBackRequestEarnings(601, "dispute")
	if err != nil {
		t.Fatalf("clawback failed: %v", err)
	}
	if len(result.ClawedBack) != 0 || len(result.Skipped) != 1 || result.Skipped[0] != entry.ID {
		t.Fatalf("reserved entry must be skipped: %+v", result)
	}
}
