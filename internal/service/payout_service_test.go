package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/payment/paypal"
	"github.com/bookd-next/internal/repository"

	"github.com/shopspring/decimal"
)

func TestSubmitPayoutAcceptedCommitsFunding(t *testing.T) {
	f := setupSettlementTest(t)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "5", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")
	svc := f.newPayoutService()

	result, err := svc.SubmitPayout(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("submit payout failed: %v", err)
	}
	if !result.Success || result.BatchID == "" || result.Method != constants.PayoutMethodPayPal {
		t.Fatalf("unexpected submit result: %+v", result)
	}
	assertMoney(t, "result amount", result.Amount, "960.00")

	calls := f.gateway.calls()
	if len(calls) != 1 {
		t.Fatalf("want 1 gateway call, got %d", len(calls))
	}
	call := calls[0]
	if !strings.HasPrefix(call.IdempotencyKey, fmt.Sprintf("BOOKD_%d_", req.ID)) {
		t.Fatalf("unexpected idempotency key: %s", call.IdempotencyKey)
	}
	if call.ItemID != strconv.FormatUint(uint64(req.ID), 10) || call.Amount != "960.00" || call.Receiver != trucker.PaypalEmail {
		t.Fatalf("unexpected transfer input: %+v", call)
	}
	if call.Wallet != paypal.WalletPayPal || call.Currency != "USD" {
		t.Fatalf("unexpected wallet/currency: %+v", call)
	}

	funded := f.reloadRequest(t, req.ID)
	if funded.Status != constants.RequestStatusFunded || funded.PayoutStatus != constants.PayoutStatusPending {
		t.Fatalf("unexpected funded state: %s/%s", funded.Status, funded.PayoutStatus)
	}
	if funded.BatchID() != result.BatchID || funded.FundedAt == nil || funded.SubmissionKey != call.IdempotencyKey {
		t.Fatalf("funding fields not persisted: %+v", funded)
	}

	reloadedBroker, err := f.brokerRepo.GetByID(broker.ID)
	if err != nil {
		t.Fatalf("reload broker failed: %v", err)
	}
	assertMoney(t, "broker total earned", reloadedBroker.TotalEarned, "30.00")

	payee := f.reloadTrucker(t, trucker.ID)
	assertMoney(t, "credit remaining", payee.BonusCreditRemaining, "0.00")
	assertMoney(t, "credit used", payee.BonusCreditUsed, "5.00")

	entry, err := f.earningsRepo.GetEntryBySource(referrer.ID, constants.EarningSourceBrokerFreeFee, req.ID)
	if err != nil || entry == nil {
		t.Fatalf("referrer earning missing: %v", err)
	}
	assertMoney(t, "referrer share", entry.TruckerShare, "5.00")

	if _, err := svc.SubmitPayout(context.Background(), req.ID); !errors.Is(err, ErrAlreadyFunded) {
		t.Fatalf("funded request must not be resubmitted, got %v", err)
	}
}

func TestSubmitPayoutPaidTierSkipsEarnings(t *testing.T) {
	f := setupSettlementTest(t)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	broker := f.createBroker(t, constants.BrokerTierPro, &referrer.ID)
	trucker := f.createTrucker(t, constants.PayoutMethodVenmo, "0", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "500")

	if _, err := f.newPayoutService().SubmitPayout(context.Background(), req.ID); err != nil {
		t.Fatalf("submit payout failed: %v", err)
	}
	if call := f.gateway.calls()[0]; call.Wallet != paypal.WalletVenmo || call.Receiver != trucker.VenmoHandle {
		t.Fatalf("venmo payout expected: %+v", call)
	}
	entries, _, err := f.earningsRepo.ListEntries(repository.EarningsEntryListFilter{TruckerID: referrer.ID})
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("paid tier broker must not accrue referral earnings")
	}
}

func TestSubmitPayoutRejectedMarksFailed(t *testing.T) {
	f := setupSettlementTest(t)
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")
	svc := f.newPayoutService()

	f.gateway.setSubmitErr(fmt.Errorf("%w: RECEIVER_UNREGISTERED: receiver is unregistered", paypal.ErrTransferRejected))
	if _, err := svc.SubmitPayout(context.Background(), req.ID); !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("want gateway rejected, got %v", err)
	}
	failed := f.reloadRequest(t, req.ID)
	if failed.Status != constants.RequestStatusApproved || failed.PayoutStatus != constants.PayoutStatusFailed {
		t.Fatalf("unexpected state after rejection: %s/%s", failed.Status, failed.PayoutStatus)
	}
	if !strings.Contains(failed.PayoutError, "RECEIVER_UNREGISTERED") {
		t.Fatalf("payout error not stored: %q", failed.PayoutError)
	}
	firstKey := failed.SubmissionKey

	f.gateway.setSubmitErr(nil)
	if _, err := svc.SubmitPayout(context.Background(), req.ID); err != nil {
		t.Fatalf("retry after rejection failed: %v", err)
	}
	calls := f.gateway.calls()
	if len(calls) != 2 || calls[1].IdempotencyKey == firstKey {
		t.Fatalf("retry after a definite failure must use a fresh key: %+v", calls)
	}
	if got := f.reloadRequest(t, req.ID); got.Status != constants.RequestStatusFunded {
		t.Fatalf("retry should fund, got %s", got.Status)
	}
}

func TestSubmitPayoutTimeoutReusesSubmissionKey(t *testing.T) {
	f := setupSettlementTest(t)
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")
	svc := f.newPayoutService()

	f.gateway.setSubmitErr(fmt.Errorf("%w: context deadline exceeded", paypal.ErrTransferTimeout))
	if _, err := svc.SubmitPayout(context.Background(), req.ID); !errors.Is(err, ErrGatewayTimeout) {
		t.Fatalf("want gateway timeout, got %v", err)
	}
	pending := f.reloadRequest(t, req.ID)
	if pending.Status != constants.RequestStatusApproved || pending.PayoutStatus != constants.PayoutStatusPending {
		t.Fatalf("unknown outcome must stay pending: %s/%s", pending.Status, pending.PayoutStatus)
	}
	if pending.SubmissionKey == "" || pending.PayoutSubmittedAt == nil {
		t.Fatalf("submission key must be persisted before the call")
	}

	f.gateway.setSubmitErr(nil)
	if _, err := svc.SubmitPayout(context.Background(), req.ID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	calls := f.gateway.calls()
	if len(calls) != 2 || calls[0].IdempotencyKey != calls[1].IdempotencyKey {
		t.Fatalf("retry after unknown outcome must reuse the key: %+v", calls)
	}
	if got := f.reloadRequest(t, req.ID); got.Status != constants.RequestStatusFunded {
		t.Fatalf("retry should fund, got %s", got.Status)
	}
}

func TestSubmitPayoutReplayRejectedKeepsKeyAndFlags(t *testing.T) {
	f := setupSettlementTest(t)
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")
	svc := f.newPayoutService()

	f.gateway.setSubmitErr(fmt.Errorf("%w: context deadline exceeded", paypal.ErrTransferTimeout))
	if _, err := svc.SubmitPayout(context.Background(), req.ID); !errors.Is(err, ErrGatewayTimeout) {
		t.Fatalf("want gateway timeout, got %v", err)
	}

	f.gateway.setSubmitErr(fmt.Errorf("%w: SENDER_BATCH_ID_ALREADY_USED", paypal.ErrTransferRejected))
	if _, err := svc.SubmitPayout(context.Background(), req.ID); !errors.Is(err, ErrReplayRejected) {
		t.Fatalf("want replay rejected, got %v", err)
	}
	after := f.reloadRequest(t, req.ID)
	if after.PayoutStatus != constants.PayoutStatusPending {
		t.Fatalf("rejected replay must not mark the request failed, got %s", after.PayoutStatus)
	}
	if len(f.reviewFlags(t, constants.ReviewReasonStuckPending)) != 1 {
		t.Fatalf("rejected replay should raise a stuck_pending flag")
	}

	f.gateway.setSubmitErr(nil)
	if _, err := svc.SubmitPayout(context.Background(), req.ID); err != nil {
		t.Fatalf("third submit failed: %v", err)
	}
	keys := map[string]bool{}
	for _, call := range f.gateway.calls() {
		keys[call.IdempotencyKey] = true
	}
	if len(keys) != 1 {
		t.Fatalf("every attempt must carry the original key, saw %d keys", len(keys))
	}
}

func TestSubmitPayoutCreditShortfallRepricesFee(t *testing.T) {
	f := setupSettlementTest(t)
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "5", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")
	assertMoney(t, "quoted credit", req.CreditApplied, "5.00")

	if err := f.db.Model(&models.Trucker{}).Where("id = ?", trucker.ID).
		Update("bonus_credit_remaining", models.NewMoneyFromDecimal(decimal.NewFromInt(2))).Error; err != nil {
		t.Fatalf("drain credit failed: %v", err)
	}

	if _, err := f.newPayoutService().SubmitPayout(context.Background(), req.ID); err != nil {
		t.Fatalf("submit payout failed: %v", err)
	}
	funded := f.reloadRequest(t, req.ID)
	assertMoney(t, "credit applied", funded.CreditApplied, "2.00")
	assertMoney(t, "platform fee", funded.PlatformFee, "8.00")
	assertMoney(t, "total fee", funded.TotalFee, "38.00")
	assertMoney(t, "amount to trucker", funded.AmountToTrucker, "960.00")

	payee := f.reloadTrucker(t, trucker.ID)
	assertMoney(t, "credit remaining", payee.BonusCreditRemaining, "0.00")
	if flags := f.reviewFlags(t, constants.ReviewReasonCreditShortfall); len(flags) != 1 {
		t.Fatalf("credit shortfall should be flagged, got %d", len(flags))
	}
}

func TestSubmitPayoutPreconditions(t *testing.T) {
	f := setupSettlementTest(t)
	broker := f.createBroker(t, constants.BrokerTierFree, nil)
	manual := f.createTrucker(t, constants.PayoutMethodManual, "0", nil)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	svc := f.newPayoutService()

	if _, err := svc.SubmitPayout(context.Background(), 9999); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("want not found, got %v", err)
	}

	pending, err := f.newEarlyPayService().CreateRequest(CreateEarlyPayInput{
		TruckerID: trucker.ID, BrokerID: broker.ID, LoadReference: "LOAD-P", Amount: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	if _, err := svc.SubmitPayout(context.Background(), pending.ID); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("want not approved, got %v", err)
	}

	manualReq := f.createApprovedRequest(t, manual.ID, broker.ID, "100")
	if _, err := svc.SubmitPayout(context.Background(), manualReq.ID); !errors.Is(err, ErrPayoutMethodMissing) {
		t.Fatalf("want payout method missing, got %v", err)
	}
	if len(f.gateway.calls()) != 0 {
		t.Fatalf("gateway must not be called when preconditions fail")
	}
}

func TestCommitAcceptedTransferIsIdempotent(t *testing.T) {
	f := setupSettlementTest(t)
	referrer := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	broker := f.createBroker(t, constants.BrokerTierFree, &referrer.ID)
	trucker := f.createTrucker(t, constants.PayoutMethodPayPal, "0", nil)
	req := f.createApprovedRequest(t, trucker.ID, broker.ID, "1000")
	svc := f.newPayoutService()

	if err := svc.CommitAcceptedTransfer(context.Background(), req.ID, "", "BATCH-X"); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := svc.CommitAcceptedTransfer(context.Background(), req.ID, "", "BATCH-X"); err != nil {
		t.Fatalf("repeat commit with the same batch must succeed: %v", err)
	}
	if err := svc.CommitAcceptedTransfer(context.Background(), req.ID, "", "BATCH-Y"); !errors.Is(err, ErrFundingCommitConflict) {
		t.Fatalf("commit with another batch must conflict, got %v", err)
	}
	reloadedBroker, err := f.brokerRepo.GetByID(broker.ID)
	if err != nil {
		t.Fatalf("reload broker failed: %v", err)
	}
	assertMoney(t, "broker total earned", reloadedBroker.TotalEarned, "30.00")
}
