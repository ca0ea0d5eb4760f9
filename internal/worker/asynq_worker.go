package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/provider"
	"github.com/bookd-next/internal/queue"
	"github.com/bookd-next/internal/service"

	"github.com/hibiken/asynq"
)

// PayoutSubmitter 提前付款打款提交
type PayoutSubmitter interface {
	SubmitPayout(ctx context.Context, requestID uint) (*service.PayoutSubmitResult, error)
}

// CashOutSubmitter 收益提现提交
type CashOutSubmitter interface {
	SubmitCashOut(ctx context.Context, payoutID uint) (*models.EarningsPayout, error)
}

// Consumer 异步任务消费者
type Consumer struct {
	Payouts  PayoutSubmitter
	CashOuts CashOutSubmitter
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	consumer := &Consumer{}
	if c == nil {
		return consumer
	}
	if c.PayoutService != nil {
		consumer.Payouts = c.PayoutService
	}
	if c.EarningsCashOutService != nil {
		consumer.CashOuts = c.EarningsCashOutService
	}
	return consumer
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPayoutSubmit, c.handlePayoutSubmit)
	mux.HandleFunc(queue.TaskEarningsCashOut, c.handleEarningsCashOut)
}

func (c *Consumer) handlePayoutSubmit(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Payouts == nil {
		logger.Debugw("worker_payout_submit_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PayoutSubmitPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payout_submit_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.RequestID == 0 {
		logger.Debugw("worker_payout_submit_skip_invalid_payload", "request_id", payload.RequestID)
		return nil
	}
	result, err := c.Payouts.SubmitPayout(ctx, payload.RequestID)
	if err != nil {
		return classifySubmitError("worker_payout_submit", "request_id", payload.RequestID, err)
	}
	if result != nil {
		logger.Infow("worker_payout_submit_done", "request_id", payload.RequestID, "batch_id", result.BatchID)
	}
	return nil
}

func (c *Consumer) handleEarningsCashOut(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.CashOuts == nil {
		logger.Debugw("worker_earnings_cashout_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.EarningsCashOutPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_earnings_cashout_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.PayoutID == 0 {
		logger.Debugw("worker_earnings_cashout_skip_invalid_payload", "payout_id", payload.PayoutID)
		return nil
	}
	payout, err := c.CashOuts.SubmitCashOut(ctx, payload.PayoutID)
	if err != nil {
		return classifySubmitError("worker_earnings_cashout", "payout_id", payload.PayoutID, err)
	}
	if payout != nil {
		logger.Infow("worker_earnings_cashout_done", "payout_id", payout.ID, "status", payout.Status)
	}
	return nil
}

// classifySubmitError 结果未知的交给队列重试（幂等键不变），确定性失败不再重试
func classifySubmitError(event, idKey string, id uint, err error) error {
	switch {
	case errors.Is(err, service.ErrGatewayTimeout):
		logger.Warnw(event+"_retry", idKey, id, "error", err)
		return err
	case errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, service.ErrEarningsPayoutMissing),
		errors.Is(err, service.ErrAlreadyFunded),
		errors.Is(err, service.ErrNotApproved),
		errors.Is(err, service.ErrPayoutInProgress),
		errors.Is(err, service.ErrCashOutInProgress):
		logger.Debugw(event+"_skip", idKey, id, "reason", err.Error())
		return nil
	case errors.Is(err, service.ErrGatewayRejected),
		errors.Is(err, service.ErrReplayRejected),
		errors.Is(err, service.ErrGatewayNotConfigured),
		errors.Is(err, service.ErrPayoutMethodMissing),
		errors.Is(err, service.ErrTruckerNotFound),
		errors.Is(err, service.ErrInvalidPayoutAmount):
		logger.Warnw(event+"_failed", idKey, id, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		logger.Errorw(event+"_error", idKey, id, "error", err)
		return err
	}
}
