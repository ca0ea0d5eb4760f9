package queue

import (
	"encoding/json"

	"github.com/bookd-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPayoutSubmit 提前付款打款提交任务
	TaskPayoutSubmit = constants.TaskPayoutSubmit
	// TaskEarningsCashOut 收益提现打款任务
	TaskEarningsCashOut = constants.TaskEarningsCashOut
)

// PayoutSubmitPayload 打款提交任务载荷
type PayoutSubmitPayload struct {
	RequestID uint `json:"request_id"`
}

// EarningsCashOutPayload 收益提现任务载荷
type EarningsCashOutPayload struct {
	PayoutID uint `json:"payout_id"`
}

// NewPayoutSubmitTask 创建打款提交任务
func NewPayoutSubmitTask(payload PayoutSubmitPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPayoutSubmit, body), nil
}

// NewEarningsCashOutTask 创建收益提现任务
func NewEarningsCashOutTask(payload EarningsCashOutPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEarningsCashOut, body), nil
}
