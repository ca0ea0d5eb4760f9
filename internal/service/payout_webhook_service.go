package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/payment/paypal"
	"github.com/bookd-next/internal/repository"
)

// WebhookVerifier 回调签名校验
type WebhookVerifier interface {
	WebhookVerificationEnabled() bool
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error
}

// FundingCommitter 网关已受理但尚未落库放款时的补偿提交
type FundingCommitter interface {
	CommitAcceptedTransfer(ctx context.Context, requestID uint, submissionKey, batchID string) error
}

// CashOutSettler 收益提现状态落地
type CashOutSettler interface {
	ApplyPayoutStatus(payoutID uint, target, message string) (string, error)
	FindPayoutByBatchID(batchID string) (*models.EarningsPayout, error)
}

// WebhookResult 回调处理结果
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
	RequestID uint   `json:"request_id,omitempty"`
	PayoutID  uint   `json:"payout_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// PayoutWebhookService 网关回调对账
type PayoutWebhookService struct {
	requestRepo repository.EarlyPayRequestRepository
	auditRepo   repository.PayoutAuditRepository
	verifier    WebhookVerifier
	funding     FundingCommitter
	cashOut     CashOutSettler
	now         func() time.Time
}

// NewPayoutWebhookService 创建回调对账服务
func NewPayoutWebhookService(
	requestRepo repository.EarlyPayRequestRepository,
	auditRepo repository.PayoutAuditRepository,
	verifier WebhookVerifier,
	funding FundingCommitter,
	cashOut CashOutSettler,
) *PayoutWebhookService {
	return &PayoutWebhookService{
		requestRepo: requestRepo,
		auditRepo:   auditRepo,
		verifier:    verifier,
		funding:     funding,
		cashOut:     cashOut,
		now:         time.Now,
	}
}

// HandleWebhook 校验、去重、应用并审计一条回调
func (s *PayoutWebhookService) HandleWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookResult, error) {
	if s.verifier != nil && s.verifier.WebhookVerificationEnabled() {
		if err := s.verifier.VerifyWebhookSignature(ctx, headers, body); err != nil {
			logger.Warnw("payout_webhook_signature_invalid", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrWebhookSignatureInvalid, err)
		}
	}
	event, err := paypal.ParseWebhookEvent(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookInvalid, err)
	}

	if event.ID != "" && s.auditRepo != nil {
		seen, err := s.auditRepo.GetWebhookEvent(event.ID)
		if err != nil {
			logger.Warnw("payout_webhook_dedupe_lookup_failed", "event_id", event.ID, "error", err)
		} else if seen != nil {
			logger.Infow("payout_webhook_event_duplicate",
				"event_id", event.ID,
				"event_type", event.EventType,
				"first_outcome", seen.Outcome,
			)
			return &WebhookResult{EventID: event.ID, EventType: event.EventType, Outcome: constants.WebhookOutcomeDuplicate}, nil
		}
	}

	result, err := s.ApplyGatewayEvent(ctx, event)
	if err != nil {
		// 不落审计记录，网关重投时可再次处理
		return result, err
	}
	s.record(event, result, body)
	return result, nil
}

// ApplyGatewayEvent 按状态机应用回调事件。
// 未知类型、无法匹配与过期事件属于正常结果；存储错误原样返回，调用方不应记为已处理。
func (s *PayoutWebhookService) ApplyGatewayEvent(ctx context.Context, event *paypal.WebhookEvent) (*WebhookResult, error) {
	result := &WebhookResult{EventID: event.ID, EventType: event.EventType}
	target, message, ok := paypal.EventPayoutStatus(event)
	if !ok {
		result.Outcome = constants.WebhookOutcomeIgnoredType
		logger.Infow("payout_webhook_event_ignored",
			"event_id", event.ID,
			"event_type", event.EventType,
		)
		return result, nil
	}

	itemID := event.SenderItemID()
	batchID := event.BatchID()

	if strings.HasPrefix(itemID, constants.EarningsItemIDPrefix) {
		payoutID, err := strconv.ParseUint(strings.TrimPrefix(itemID, constants.EarningsItemIDPrefix), 10, 64)
		if err == nil && payoutID > 0 {
			return s.applyCashOut(result, uint(payoutID), target, message)
		}
	}

	req, err := s.matchRequest(event, itemID, batchID)
	if err != nil {
		logger.Warnw("payout_webhook_lookup_failed",
			"event_id", event.ID,
			"event_type", event.EventType,
			"item_id", itemID,
			"batch_id", batchID,
			"error", err,
		)
		return result, fmt.Errorf("match event %s: %w", event.ID, err)
	}
	if req == nil {
		if s.cashOut != nil && batchID != "" {
			payout, err := s.cashOut.FindPayoutByBatchID(batchID)
			if err != nil {
				return result, fmt.Errorf("match cash-out batch %s: %w", batchID, err)
			}
			if payout != nil {
				return s.applyCashOut(result, payout.ID, target, message)
			}
		}
		result.Outcome = constants.WebhookOutcomeUnmatched
		logger.Warnw("payout_webhook_event_unmatched",
			"event_id", event.ID,
			"event_type", event.EventType,
			"item_id", itemID,
			"batch_id", batchID,
			"sender_batch_id", event.SenderBatchID(),
		)
		return result, nil
	}
	result.RequestID = req.ID

	if req.Status == constants.RequestStatusApproved && req.PayoutStatus == constants.PayoutStatusPending &&
		target != paypal.StatusFailed && batchID != "" && s.funding != nil {
		if err := s.funding.CommitAcceptedTransfer(ctx, req.ID, req.SubmissionKey, batchID); err != nil {
			logger.Errorw("payout_webhook_funding_commit_failed",
				"event_id", event.ID,
				"request_id", req.ID,
				"batch_id", batchID,
				"error", err,
			)
			if errors.Is(err, ErrFundingCommitConflict) {
				flagReviewSubject(s.auditRepo, req.ID, nil, constants.ReviewReasonStuckPending,
					"webhook batch "+batchID+" conflicts with stored submission: "+err.Error(), s.now())
				result.Outcome = constants.WebhookOutcomeNoop
				result.Detail = err.Error()
				return result, nil
			}
			return result, fmt.Errorf("commit funding for request %d: %w", req.ID, err)
		}
		refreshed, err := s.requestRepo.GetByID(req.ID)
		if err != nil {
			return result, fmt.Errorf("reload request %d: %w", req.ID, err)
		}
		if refreshed != nil {
			req = refreshed
		}
	}

	outcome, err := s.ApplyRequestPayoutStatus(req, constants.PayoutStatus(target), message, event.ID)
	if err != nil {
		logger.Errorw("payout_webhook_apply_failed",
			"event_id", event.ID,
			"request_id", req.ID,
			"error", err,
		)
		return result, fmt.Errorf("apply payout status for request %d: %w", req.ID, err)
	}
	result.Outcome = outcome
	return result, nil
}

// ApplyRequestPayoutStatus 条件更新申请打款状态，终态不回退
func (s *PayoutWebhookService) ApplyRequestPayoutStatus(req *models.EarlyPayRequest, target constants.PayoutStatus, message, source string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		current := req.PayoutStatus
		if current == target {
			logger.Debugw("payout_status_noop", "request_id", req.ID, "status", current, "source", source)
			return constants.WebhookOutcomeNoop, nil
		}
		if !constants.CanTransitionPayout(current, target) {
			logger.Warnw("payout_webhook_event_discarded",
				"request_id", req.ID,
				"source", source,
				"current_status", current,
				"target_status", target,
			)
			return constants.WebhookOutcomeDiscardedStale, nil
		}

		now := s.now()
		updates := map[string]interface{}{
			"payout_status": target,
			"updated_at":    now,
		}
		switch target {
		case constants.PayoutStatusSuccess:
			updates["payout_error"] = ""
			updates["payout_settled_at"] = now
		case constants.PayoutStatusFailed:
			updates["payout_error"] = message
			updates["payout_settled_at"] = now
		case constants.PayoutStatusUnclaimed:
			updates["payout_error"] = message
		}
		ok, err := s.requestRepo.UpdateIf(req.ID, repository.RequestCondition{
			PayoutStatuses: constants.PayoutSourcesFor(target),
		}, updates)
		if err != nil {
			return "", err
		}
		if ok {
			logger.Infow("payout_status_applied",
				"request_id", req.ID,
				"source", source,
				"from", current,
				"to", target,
			)
			if target == constants.PayoutStatusFailed && req.Status == constants.RequestStatusFunded && s.auditRepo != nil {
				flagReviewSubject(s.auditRepo, req.ID, nil, constants.ReviewReasonFundedPayoutFailed, message, now)
			}
			return constants.WebhookOutcomeApplied, nil
		}
		refreshed, err := s.requestRepo.GetByID(req.ID)
		if err != nil {
			return "", err
		}
		if refreshed == nil {
			return constants.WebhookOutcomeUnmatched, nil
		}
		req = refreshed
	}
	return constants.WebhookOutcomeDiscardedStale, nil
}

func (s *PayoutWebhookService) matchRequest(event *paypal.WebhookEvent, itemID, batchID string) (*models.EarlyPayRequest, error) {
	var errs []error
	if !event.IsBatchEvent() && itemID != "" {
		if id, err := strconv.ParseUint(itemID, 10, 64); err == nil && id > 0 {
			req, err := s.requestRepo.GetByID(uint(id))
			if err != nil {
				errs = append(errs, err)
			} else if req != nil {
				return req, nil
			}
		}
	}
	if batchID != "" {
		req, err := s.requestRepo.GetByBatchID(batchID)
		if err != nil {
			errs = append(errs, err)
		} else if req != nil {
			return req, nil
		}
	}
	// 放款提交前到达的批次事件只能靠 sender_batch_id 对上幂等键
	if key := event.SenderBatchID(); strings.HasPrefix(key, constants.PayoutBatchIDPrefix+"_") && !strings.HasPrefix(key, constants.EarningsBatchIDPrefix+"_") {
		req, err := s.requestRepo.GetBySubmissionKey(key)
		if err != nil {
			errs = append(errs, err)
		} else if req != nil {
			return req, nil
		}
	}
	return nil, errors.Join(errs...)
}

func (s *PayoutWebhookService) applyCashOut(result *WebhookResult, payoutID uint, target, message string) (*WebhookResult, error) {
	result.PayoutID = payoutID
	if s.cashOut == nil {
		result.Outcome = constants.WebhookOutcomeUnmatched
		return result, nil
	}
	outcome, err := s.cashOut.ApplyPayoutStatus(payoutID, target, message)
	if errors.Is(err, ErrEarningsPayoutMissing) {
		logger.Warnw("payout_webhook_cashout_unmatched", "event_id", result.EventID, "payout_id", payoutID)
		result.Outcome = constants.WebhookOutcomeUnmatched
		return result, nil
	}
	if err != nil {
		logger.Errorw("payout_webhook_cashout_apply_failed",
			"event_id", result.EventID,
			"payout_id", payoutID,
			"error", err,
		)
		return result, fmt.Errorf("apply cash-out %d status: %w", payoutID, err)
	}
	result.Outcome = outcome
	return result, nil
}

func (s *PayoutWebhookService) record(event *paypal.WebhookEvent, result *WebhookResult, body []byte) {
	if s.auditRepo == nil || event.ID == "" {
		return
	}
	row := &models.PayoutWebhookEvent{
		EventID:    event.ID,
		EventType:  event.EventType,
		BatchID:    event.BatchID(),
		ItemID:     event.SenderItemID(),
		Outcome:    result.Outcome,
		Detail:     truncateText(result.Detail, 255),
		Payload:    string(body),
		ReceivedAt: s.now(),
	}
	if result.RequestID != 0 {
		id := result.RequestID
		row.RequestID = &id
	}
	inserted, err := s.auditRepo.RecordWebhookEvent(row)
	if err != nil {
		logger.Errorw("payout_webhook_audit_failed", "event_id", event.ID, "error", err)
		return
	}
	if !inserted {
		logger.Infow("payout_webhook_event_recorded_concurrently", "event_id", event.ID)
	}
}
