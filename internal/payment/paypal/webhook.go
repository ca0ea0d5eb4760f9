package paypal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payouts 回调事件类型
const (
	EventBatchSuccess    = "PAYMENT.PAYOUTSBATCH.SUCCESS"
	EventBatchDenied     = "PAYMENT.PAYOUTSBATCH.DENIED"
	EventBatchProcessing = "PAYMENT.PAYOUTSBATCH.PROCESSING"
	EventItemSucceeded   = "PAYMENT.PAYOUTS-ITEM.SUCCEEDED"
	EventItemDenied      = "PAYMENT.PAYOUTS-ITEM.DENIED"
	EventItemFailed      = "PAYMENT.PAYOUTS-ITEM.FAILED"
	EventItemBlocked     = "PAYMENT.PAYOUTS-ITEM.BLOCKED"
	EventItemCanceled    = "PAYMENT.PAYOUTS-ITEM.CANCELED"
	EventItemUnclaimed   = "PAYMENT.PAYOUTS-ITEM.UNCLAIMED"
	EventItemReturned    = "PAYMENT.PAYOUTS-ITEM.RETURNED"
)

// 网关映射后的打款状态
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusUnclaimed = "unclaimed"
)

// 默认错误说明
const (
	DefaultDeniedMessage    = "Payout denied"
	DefaultFailedMessage    = "Payout failed"
	UnclaimedMessage        = "Recipient has not claimed the payment"
	ReturnedUnclaimedReason = "Payment returned - unclaimed for 30 days"
)

// WebhookEvent PayPal 回调事件。
type WebhookEvent struct {
	ID           string                 `json:"id"`
	EventType    string                 `json:"event_type"`
	ResourceType string                 `json:"resource_type"`
	Summary      string                 `json:"summary"`
	CreateTime   string                 `json:"create_time"`
	Resource     map[string]interface{} `json:"resource"`
}

// ParseWebhookEvent 解析回调事件。
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: decode webhook failed", ErrResponseInvalid)
	}
	event.ID = strings.TrimSpace(event.ID)
	event.EventType = strings.ToUpper(strings.TrimSpace(event.EventType))
	if event.EventType == "" {
		return nil, fmt.Errorf("%w: event_type is empty", ErrResponseInvalid)
	}
	return &event, nil
}

// IsBatchEvent 是否为批次级事件
func (e *WebhookEvent) IsBatchEvent() bool {
	return e != nil && strings.HasPrefix(e.EventType, "PAYMENT.PAYOUTSBATCH.")
}

// BatchID 批次号（批次事件取 batch_header，单笔事件取 payout_batch_id）
func (e *WebhookEvent) BatchID() string {
	if e == nil {
		return ""
	}
	if id := strings.TrimSpace(readString(e.Resource, "batch_header", "payout_batch_id")); id != "" {
		return id
	}
	return strings.TrimSpace(readString(e.Resource, "payout_batch_id"))
}

// SenderBatchID 提交时的 sender_batch_id，即本方幂等键
func (e *WebhookEvent) SenderBatchID() string {
	if e == nil {
		return ""
	}
	if id := strings.TrimSpace(readString(e.Resource, "batch_header", "sender_batch_header", "sender_batch_id")); id != "" {
		return id
	}
	return strings.TrimSpace(readString(e.Resource, "sender_batch_id"))
}

// SenderItemID 单笔事件中的 sender_item_id
func (e *WebhookEvent) SenderItemID() string {
	if e == nil {
		return ""
	}
	if id := strings.TrimSpace(readString(e.Resource, "payout_item", "sender_item_id")); id != "" {
		return id
	}
	return strings.TrimSpace(readString(e.Resource, "sender_item_id"))
}

// ErrorMessage 事件附带的错误描述
func (e *WebhookEvent) ErrorMessage() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(readString(e.Resource, "batch_header", "errors", "0", "message")); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(readString(e.Resource, "errors", "0", "message")); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(readString(e.Resource, "errors", "message")); msg != "" {
		return msg
	}
	return ""
}

// EventPayoutStatus 将事件类型映射为打款状态与错误说明，ok=false 表示无需处理。
func EventPayoutStatus(event *WebhookEvent) (status string, message string, ok bool) {
	if event == nil {
		return "", "", false
	}
	switch event.EventType {
	case EventBatchSuccess, EventItemSucceeded:
		return StatusSuccess, "", true
	case EventBatchDenied:
		return StatusFailed, firstNonEmpty(event.ErrorMessage(), DefaultDeniedMessage), true
	case EventItemDenied, EventItemFailed, EventItemBlocked, EventItemCanceled:
		return StatusFailed, firstNonEmpty(event.ErrorMessage(), DefaultFailedMessage), true
	case EventItemUnclaimed:
		return StatusUnclaimed, UnclaimedMessage, true
	case EventItemReturned:
		return StatusFailed, ReturnedUnclaimedReason, true
	default:
		return "", "", false
	}
}

// BatchPayoutStatus 将批次查询结果映射为打款状态，ok=false 表示仍在处理中。
func BatchPayoutStatus(batch *BatchStatus) (status string, message string, ok bool) {
	if batch == nil {
		return "", "", false
	}
	for _, item := range batch.Items {
		if status, message, ok := ItemPayoutStatus(item.TransactionStatus, item.ErrorMessage); ok {
			return status, message, ok
		}
	}
	switch batch.Status {
	case "SUCCESS":
		if len(batch.Items) == 0 {
			return StatusSuccess, "", true
		}
	case "DENIED", "CANCELED":
		return StatusFailed, DefaultDeniedMessage, true
	}
	return "", "", false
}

// ItemPayoutStatus 将单笔 transaction_status 映射为打款状态。
func ItemPayoutStatus(transactionStatus, errMessage string) (string, string, bool) {
	switch strings.ToUpper(strings.TrimSpace(transactionStatus)) {
	case "SUCCESS":
		return StatusSuccess, "", true
	case "FAILED", "DENIED", "BLOCKED", "CANCELED":
		return StatusFailed, firstNonEmpty(errMessage, DefaultFailedMessage), true
	case "RETURNED":
		return StatusFailed, ReturnedUnclaimedReason, true
	case "UNCLAIMED":
		return StatusUnclaimed, UnclaimedMessage, true
	}
	return "", "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
