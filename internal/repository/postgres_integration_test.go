//go:build integration
// +build integration

package repository

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	_ = db.Migrator().DropTable(models.AllModels()...)
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(models.AllModels()...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresMonthlyCapCompareAndSwap(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewEarningsRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	first, err := repo.EnsureMonthlyCap(7, 3, "2026-10", now)
	if err != nil {
		t.Fatalf("ensure cap failed: %v", err)
	}
	again, err := repo.EnsureMonthlyCap(7, 3, "2026-10", now)
	if err != nil {
		t.Fatalf("ensure cap again failed: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("ensure cap should be idempotent, got %d and %d", first.ID, again.ID)
	}

	ok, err := repo.CompareAndSwapMonthlyCap(first.ID, first.Version, decimal.NewFromInt(5), now)
	if err != nil || !ok {
		t.Fatalf("first swap should succeed, ok=%v err=%v", ok, err)
	}
	ok, err = repo.CompareAndSwapMonthlyCap(first.ID, first.Version, decimal.NewFromInt(9), now)
	if err != nil {
		t.Fatalf("stale swap failed: %v", err)
	}
	if ok {
		t.Fatalf("stale version must not win")
	}

	current, err := repo.EnsureMonthlyCap(7, 3, "2026-10", now)
	if err != nil {
		t.Fatalf("reload cap failed: %v", err)
	}
	if !current.Total.Decimal.Equal(decimal.NewFromInt(5)) || current.Version != first.Version+1 {
		t.Fatalf("unexpected cap row: total=%s version=%d", current.Total.String(), current.Version)
	}
}

func TestPostgresCashOutReservationLocksRows(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewEarningsRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 2; i++ {
		requestID := uint(100 + i)
		entry := &models.EarningsLedgerEntry{
			TruckerID:        9,
			SourceType:       constants.EarningSourceBrokerFreeFee,
			RequestID:        &requestID,
			GrossAmount:      models.NewMoneyFromDecimal(decimal.NewFromInt(50)),
			TruckerShare:     models.NewMoneyFromDecimal(decimal.NewFromInt(5)),
			Status:           constants.EarningStatusPayable,
			CollectedAt:      now.AddDate(0, 0, -8),
			BecomesPayableAt: now.AddDate(0, 0, -1),
		}
		if err := repo.CreateEntry(entry); err != nil {
			t.Fatalf("create entry failed: %v", err)
		}
	}

	err := repo.Transaction(func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		rows, err := txRepo.ListPayableUnreservedForUpdate(9)
		if err != nil {
			return err
		}
		if len(rows) != 2 {
			t.Fatalf("want 2 payable rows got %d", len(rows))
		}
		payout := &models.EarningsPayout{
			TruckerID:     9,
			Amount:        models.NewMoneyFromDecimal(decimal.NewFromInt(10)),
			Status:        string(constants.PayoutStatusPending),
			SubmissionKey: "BOOKD_EARN_9_1",
		}
		if err := txRepo.CreatePayout(payout); err != nil {
			return err
		}
		ids := []uint{rows[0].ID, rows[1].ID}
		reserved, err := txRepo.ReserveEntries(ids, payout.ID, now)
		if err != nil {
			return err
		}
		if reserved != 2 {
			t.Fatalf("want 2 reserved rows got %d", reserved)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reservation transaction failed: %v", err)
	}

	agg, err := repo.SumBalanceByTrucker(9)
	if err != nil {
		t.Fatalf("sum balance failed: %v", err)
	}
	if !agg.Reserved.Equal(decimal.NewFromInt(10)) || !agg.Payable.IsZero() {
		t.Fatalf("unexpected balance: %+v", agg)
	}
}
