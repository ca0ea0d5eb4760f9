package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/queue"
	"github.com/bookd-next/internal/repository"

	"github.com/shopspring/decimal"
)

// EarlyPayService 提前付款申请生命周期
type EarlyPayService struct {
	requestRepo repository.EarlyPayRequestRepository
	brokerRepo  repository.BrokerRepository
	truckerRepo repository.TruckerRepository
	feeCalc     *FeeCalculator
	policy      SettlementPolicy
	queueClient *queue.Client
	autoSubmit  bool
	now         func() time.Time
}

// NewEarlyPayService 创建申请服务
func NewEarlyPayService(
	requestRepo repository.EarlyPayRequestRepository,
	brokerRepo repository.BrokerRepository,
	truckerRepo repository.TruckerRepository,
	feeCalc *FeeCalculator,
	policy SettlementPolicy,
	queueClient *queue.Client,
	autoSubmit bool,
) *EarlyPayService {
	return &EarlyPayService{
		requestRepo: requestRepo,
		brokerRepo:  brokerRepo,
		truckerRepo: truckerRepo,
		feeCalc:     feeCalc,
		policy:      policy,
		queueClient: queueClient,
		autoSubmit:  autoSubmit,
		now:         time.Now,
	}
}

// CreateEarlyPayInput 创建申请输入
type CreateEarlyPayInput struct {
	TruckerID     uint
	BrokerID      uint
	LoadReference string
	Amount        decimal.Decimal
}

// QuoteFee 按套餐与抵扣额度试算费用
func (s *EarlyPayService) QuoteFee(amount decimal.Decimal, tier constants.BrokerTier, credit decimal.Decimal) (*FeeBreakdown, error) {
	return s.feeCalc.ComputeFee(amount, tier, credit)
}

// CreateRequest 司机发起申请
func (s *EarlyPayService) CreateRequest(input CreateEarlyPayInput) (*models.EarlyPayRequest, error) {
	if !input.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	loadRef := strings.TrimSpace(input.LoadReference)
	if loadRef == "" {
		return nil, fmt.Errorf("%w: load reference is required", ErrInvalidInput)
	}
	trucker, err := s.truckerRepo.GetByID(input.TruckerID)
	if err != nil {
		return nil, err
	}
	if trucker == nil {
		return nil, ErrTruckerNotFound
	}
	broker, err := s.brokerRepo.GetByID(input.BrokerID)
	if err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, ErrBrokerNotFound
	}

	now := s.now()
	if allowance := s.policy.MonthlyAllowance(broker.Tier); allowance > 0 {
		count, err := s.requestRepo.CountCreatedByBrokerSince(broker.ID, monthStart(now))
		if err != nil {
			return nil, err
		}
		if count >= int64(allowance) {
			return nil, ErrMonthlyAllowanceExceeded
		}
	}

	fee, err := s.feeCalc.ComputeFee(input.Amount, broker.Tier, trucker.BonusCreditRemaining.Decimal)
	if err != nil {
		return nil, err
	}
	req := &models.EarlyPayRequest{
		TruckerID:       trucker.ID,
		BrokerID:        broker.ID,
		LoadReference:   loadRef,
		AmountRequested: fee.AmountRequested,
		BrokerFee:       fee.BrokerFee,
		PlatformFee:     fee.PlatformFee,
		CreditApplied:   fee.CreditApplied,
		TotalFee:        fee.TotalFee,
		AmountToTrucker: fee.AmountToTrucker,
		Status:          constants.RequestStatusPending,
		PayoutStatus:    constants.PayoutStatusNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.requestRepo.Create(req); err != nil {
		return nil, err
	}
	logger.Infow("early_pay_request_created",
		"request_id", req.ID,
		"trucker_id", req.TruckerID,
		"broker_id", req.BrokerID,
		"amount", req.AmountRequested.String(),
		"tier", broker.Tier,
	)
	return req, nil
}

// ApproveRequest 经纪商审批通过
func (s *EarlyPayService) ApproveRequest(requestID, brokerID uint) (*models.EarlyPayRequest, error) {
	now := s.now()
	req, err := s.transition(requestID, brokerID, constants.RequestStatusApproved, map[string]interface{}{
		"status":      constants.RequestStatusApproved,
		"approved_at": now,
		"updated_at":  now,
	})
	if err != nil {
		return nil, err
	}
	if s.autoSubmit && s.queueClient != nil && s.queueClient.Enabled() {
		if err := s.queueClient.EnqueuePayoutSubmit(queue.PayoutSubmitPayload{RequestID: req.ID}); err != nil {
			logger.Warnw("early_pay_enqueue_payout_failed", "request_id", req.ID, "error", err)
		}
	}
	return req, nil
}

// RejectRequest 经纪商拒绝申请（终态）
func (s *EarlyPayService) RejectRequest(requestID, brokerID uint, reason string) (*models.EarlyPayRequest, error) {
	now := s.now()
	return s.transition(requestID, brokerID, constants.RequestStatusRejected, map[string]interface{}{
		"status":        constants.RequestStatusRejected,
		"reject_reason": strings.TrimSpace(reason),
		"rejected_at":   now,
		"updated_at":    now,
	})
}

// GetRequest 查询申请
func (s *EarlyPayService) GetRequest(requestID uint) (*models.EarlyPayRequest, error) {
	req, err := s.requestRepo.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

// ListRequests 分页查询申请
func (s *EarlyPayService) ListRequests(filter repository.EarlyPayRequestListFilter) ([]models.EarlyPayRequest, int64, error) {
	return s.requestRepo.List(filter)
}

func (s *EarlyPayService) transition(requestID, brokerID uint, to constants.RequestStatus, updates map[string]interface{}) (*models.EarlyPayRequest, error) {
	req, err := s.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if brokerID != 0 && req.BrokerID != brokerID {
		return nil, ErrForbidden
	}
	if !constants.CanTransitionRequest(req.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, req.Status, to)
	}
	ok, err := s.requestRepo.UpdateIf(req.ID, repository.RequestCondition{
		Statuses: []constants.RequestStatus{req.Status},
		BrokerID: req.BrokerID,
	}, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request changed concurrently", ErrInvalidStatusTransition)
	}
	logger.Infow("early_pay_request_transitioned",
		"request_id", req.ID,
		"from", req.Status,
		"to", to,
	)
	return s.GetRequest(req.ID)
}
