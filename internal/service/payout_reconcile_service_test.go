package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/payment/paypal"
)

func newReconcileFixture(t *testing.T) (*settlementFixture, *PayoutService, *EarningsCashOutService, *PayoutReconcileService) {
	t.Helper()
	f := setupSettlementTest(t)
	payouts := f.newPayoutService()
	cashOut := f.newCashOutService()
	webhooks := f.newWebhookService(nil, payouts, cashOut)
	reconciler := NewPayoutReconcileService(f.requestRepo, f.earningsRepo, f.auditRepo, payouts, webhooks, cashOut, f.gateway, ReconcileOptions{
		StuckAfter: 30 * time.Minute,
		BatchSize:  50,
	})
	return f, payouts, cashOut, reconciler
}

func TestReconcileResubmitsUnknownOutcome(t *testing.T) {
	f, payouts, _, reconciler := newReconcileFixture(t)
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")

	f.gateway.setSubmitErr(paypal.ErrTransferTimeout)
	if _, err := payouts.SubmitPayout(context.Background(), req.ID); !errors.Is(err, ErrGatewayTimeout) {
		t.Fatalf("want timeout, got %v", err)
	}
	f.gateway.setSubmitErr(nil)

	early, err := reconciler.ReconcileStuckPayouts(context.Background(), f.clock.Now())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if early.Scanned != 0 {
		t.Fatalf("fresh submissions are not stuck yet, scanned %d", early.Scanned)
	}

	report, err := reconciler.ReconcileStuckPayouts(context.Background(), f.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Scanned != 1 || report.Resubmitted != 1 || report.Flagged != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	calls := f.gateway.calls()
	if len(calls) != 2 || calls[0].IdempotencyKey != calls[1].IdempotencyKey {
		t.Fatalf("reconcile must resubmit with the stored key: %+v", calls)
	}
	if got := f.reloadRequest(t, req.ID); got.Status != constants.RequestStatusFunded {
		t.Fatalf("resubmitted request should be funded, got %s", got.Status)
	}
}

func TestReconcileQueriesFundedBatches(t *testing.T) {
	f, payouts, _, reconciler := newReconcileFixture(t)
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	settledReq := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")
	stuckReq := f.createApprovedRequest(t, trucker.ID, broker.ID, "500")
	for _, id := range []uint{settledReq.ID, stuckReq.ID} {
		if _, err := payouts.SubmitPayout(context.Background(), id); err != nil {
			t.Fatalf("submit %d failed: %v", id, err)
		}
	}
	settled := f.reloadRequest(t, settledReq.ID)
	stuck := f.reloadRequest(t, stuckReq.ID)
	f.gateway.setBatch(settled.BatchID(), "SUCCESS", paypal.BatchItem{TransactionStatus: "SUCCESS"})
	f.gateway.setBatch(stuck.BatchID(), "PROCESSING")

	report, err := reconciler.ReconcileStuckPayouts(context.Background(), f.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Scanned != 2 || report.Resolved != 1 || report.Flagged != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := f.reloadRequest(t, settledReq.ID); got.PayoutStatus != constants.PayoutStatusSuccess {
		t.Fatalf("settled batch should resolve to success, got %s", got.PayoutStatus)
	}
	if got := f.reloadRequest(t, stuckReq.ID); got.PayoutStatus != constants.PayoutStatusPending {
		t.Fatalf("processing batch stays pending, got %s", got.PayoutStatus)
	}
	flags := f.reviewFlags(t, constants.ReviewReasonStuckPending)
	if len(flags) != 1 || flags[0].RequestID == nil || *flags[0].RequestID != stuckReq.ID {
		t.Fatalf("stuck request should be flagged once: %+v", flags)
	}

	if _, err := reconciler.ReconcileStuckPayouts(context.Background(), f.clock.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	flags = f.reviewFlags(t, constants.ReviewReasonStuckPending)
	if len(flags) != 1 || flags[0].Occurrences != 2 {
		t.Fatalf("repeat detection should bump the same flag: %+v", flags)
	}
}

func TestReconcileCashOuts(t *testing.T) {
	f, _, cashOut, reconciler := newReconcileFixture(t)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	f.createPayableEntry(t, trucker.ID, 71, "7.00")

	payout, err := cashOut.RequestCashOut(context.Background(), trucker.ID)
	if err != nil {
		t.Fatalf("request cash out failed: %v", err)
	}
	f.gateway.setBatch(*payout.BatchID, "SUCCESS", paypal.BatchItem{TransactionStatus: "SUCCESS"})

	report, err := reconciler.ReconcileStuckPayouts(context.Background(), f.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.CashOutScanned != 1 || report.CashOutSettled != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	settled, err := f.earningsRepo.GetPayoutByID(payout.ID)
	if err != nil {
		t.Fatalf("reload payout failed: %v", err)
	}
	if settled.Status != constants.EarningsPayoutStatusSuccess {
		t.Fatalf("cash out should settle, got %s", settled.Status)
	}
}

func TestReconcileRotatesThroughUnresolvedBatches(t *testing.T) {
	f, payouts, cashOut, _ := newReconcileFixture(t)
	reconciler := NewPayoutReconcileService(f.requestRepo, f.earningsRepo, f.auditRepo, payouts,
		f.newWebhookService(nil, payouts, cashOut), cashOut, f.gateway, ReconcileOptions{
			StuckAfter: 30 * time.Minute,
			BatchSize:  1,
		})
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	first := f.createApprovedRequest(t, trucker.ID, broker.ID, "300")
	second := f.createApprovedRequest(t, trucker.ID, broker.ID, "400")
	for _, id := range []uint{first.ID, second.ID} {
		if _, err := payouts.SubmitPayout(context.Background(), id); err != nil {
			t.Fatalf("submit %d failed: %v", id, err)
		}
		f.gateway.setBatch(f.reloadRequest(t, id).BatchID(), "PROCESSING")
	}

	start := f.clock.Now().Add(time.Hour)
	for i, want := range []uint{first.ID, second.ID} {
		if _, err := reconciler.ReconcileStuckPayouts(context.Background(), start.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("reconcile pass %d failed: %v", i, err)
		}
		if got := f.reloadRequest(t, want); got.LastReconciledAt == nil {
			t.Fatalf("pass %d should examine request %d", i, want)
		}
	}
	if flags := f.reviewFlags(t, constants.ReviewReasonStuckPending); len(flags) != 2 {
		t.Fatalf("both unresolved batches should be flagged, got %d", len(flags))
	}
}
