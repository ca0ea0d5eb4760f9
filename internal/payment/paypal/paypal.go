package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrConfigInvalid       = errors.New("paypal config invalid")
	ErrAuthFailed          = errors.New("paypal auth failed")
	ErrRequestFailed       = errors.New("paypal request failed")
	ErrResponseInvalid     = errors.New("paypal response invalid")
	ErrTransferRejected    = errors.New("paypal transfer rejected")
	ErrTransferTimeout     = errors.New("paypal transfer timeout")
	ErrWebhookVerifyFailed = errors.New("paypal webhook verify failed")
)

const (
	defaultSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	defaultTimeout        = 12 * time.Second
	defaultCurrency       = "USD"
	tokenExpirySkew       = 60 * time.Second
)

// 收款钱包类型
const (
	WalletPayPal = "PAYPAL"
	WalletVenmo  = "VENMO"
)

// Config PayPal Payouts 配置。
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	Currency     string
	EmailSubject string
	EmailMessage string
	Timeout      time.Duration
}

// TokenStore 访问令牌共享存储（多实例共用）。
type TokenStore interface {
	GetToken(ctx context.Context, key string) (string, bool)
	SetToken(ctx context.Context, key, token string, ttl time.Duration)
}

// TransferInput 单笔打款输入。
type TransferInput struct {
	IdempotencyKey string
	ItemID         string
	Receiver       string
	Wallet         string
	Amount         string
	Currency       string
	Note           string
}

// TransferResult 打款受理结果。
type TransferResult struct {
	BatchID     string
	BatchStatus string
	Raw         map[string]interface{}
}

// BatchItem 批次内单笔状态。
type BatchItem struct {
	SenderItemID      string
	TransactionStatus string
	ErrorMessage      string
}

// BatchStatus 批次查询结果。
type BatchStatus struct {
	BatchID       string
	SenderBatchID string
	Status        string
	Items         []BatchItem
}

// Client PayPal Payouts 客户端。
type Client struct {
	cfg        Config
	httpClient *http.Client
	store      TokenStore

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option 客户端选项。
type Option func(*Client)

// WithHTTPClient 指定 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTokenStore 指定令牌共享存储。
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// NewClient 创建客户端。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.normalize()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	client := &Client{cfg: cfg, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("%w: client_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return fmt.Errorf("%w: client_secret is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.BaseURL)); err != nil {
		return fmt.Errorf("%w: base_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// WebhookVerificationEnabled 是否配置了 webhook_id。
func (c *Client) WebhookVerificationEnabled() bool {
	return c != nil && c.cfg.WebhookID != ""
}

// Currency 默认币种。
func (c *Client) Currency() string {
	if c == nil {
		return defaultCurrency
	}
	return c.cfg.Currency
}

// GetAccessToken 获取 OAuth2 访问令牌（带缓存）。
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	storeKey := "paypal:token:" + c.cfg.ClientID
	if c.store != nil {
		if token, ok := c.store.GetToken(ctx, storeKey); ok && token != "" {
			return token, nil
		}
	}

	token, ttl, err := c.requestAccessToken(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.token = token
	c.tokenExpiry = time.Now().Add(ttl)
	c.mu.Unlock()
	if c.store != nil {
		c.store.SetToken(ctx, storeKey, token, ttl)
	}
	return token, nil
}

// SubmitTransfer 提交单笔打款，IdempotencyKey 同时作为 sender_batch_id 与 PayPal-Request-Id。
func (c *Client) SubmitTransfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	if strings.TrimSpace(input.IdempotencyKey) == "" || strings.TrimSpace(input.Receiver) == "" || strings.TrimSpace(input.Amount) == "" {
		return nil, fmt.Errorf("%w: transfer input is invalid", ErrConfigInvalid)
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = c.cfg.Currency
	}
	wallet := strings.ToUpper(strings.TrimSpace(input.Wallet))
	if wallet == "" {
		wallet = WalletPayPal
	}
	recipientType := "EMAIL"
	if wallet == WalletVenmo {
		recipientType = "USER_HANDLE"
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"sender_batch_header": map[string]string{
			"sender_batch_id": input.IdempotencyKey,
			"email_subject":   c.cfg.EmailSubject,
			"email_message":   c.cfg.EmailMessage,
		},
		"items": []map[string]interface{}{
			{
				"recipient_type":   recipientType,
				"recipient_wallet": wallet,
				"receiver":         strings.TrimSpace(input.Receiver),
				"sender_item_id":   strings.TrimSpace(input.ItemID),
				"note":             strings.TrimSpace(input.Note),
				"amount": map[string]string{
					"value":    strings.TrimSpace(input.Amount),
					"currency": currency,
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request failed", ErrRequestFailed)
	}

	headers := map[string]string{"PayPal-Request-Id": input.IdempotencyKey}
	respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodPost, "/v1/payments/payouts", token, body, headers)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransferRejected, statusCode, extractErrorMessage(respBody))
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	result := &TransferResult{
		BatchID:     strings.TrimSpace(readString(raw, "batch_header", "payout_batch_id")),
		BatchStatus: strings.TrimSpace(readString(raw, "batch_header", "batch_status")),
		Raw:         raw,
	}
	if result.BatchID == "" {
		return nil, fmt.Errorf("%w: missing payout_batch_id", ErrResponseInvalid)
	}
	if strings.EqualFold(result.BatchStatus, "DENIED") {
		return nil, fmt.Errorf("%w: batch denied", ErrTransferRejected)
	}
	return result, nil
}

// GetPayoutBatch 查询批次状态。
func (c *Client) GetPayoutBatch(ctx context.Context, batchID string) (*BatchStatus, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is empty", ErrConfigInvalid)
	}
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodGet, "/v1/payments/payouts/"+url.PathEscape(batchID), token, nil, nil)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: batch status %d", ErrResponseInvalid, statusCode)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	status := &BatchStatus{
		BatchID:       strings.TrimSpace(readString(raw, "batch_header", "payout_batch_id")),
		SenderBatchID: strings.TrimSpace(readString(raw, "batch_header", "sender_batch_header", "sender_batch_id")),
		Status:        strings.ToUpper(strings.TrimSpace(readString(raw, "batch_header", "batch_status"))),
	}
	for _, item := range readArray(raw, "items") {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		status.Items = append(status.Items, BatchItem{
			SenderItemID:      strings.TrimSpace(readString(itemMap, "payout_item", "sender_item_id")),
			TransactionStatus: strings.ToUpper(strings.TrimSpace(readString(itemMap, "transaction_status"))),
			ErrorMessage:      strings.TrimSpace(readString(itemMap, "errors", "message")),
		})
	}
	if status.BatchID == "" {
		status.BatchID = batchID
	}
	return status, nil
}

// VerifyWebhookSignature 校验 PayPal Webhook 签名。
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	if strings.TrimSpace(c.cfg.WebhookID) == "" {
		return fmt.Errorf("%w: webhook_id is required", ErrConfigInvalid)
	}
	var event map[string]interface{}
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: webhook body invalid", ErrWebhookVerifyFailed)
	}
	payload := map[string]interface{}{
		"transmission_id":   strings.TrimSpace(headers.Get("Paypal-Transmission-Id")),
		"transmission_time": strings.TrimSpace(headers.Get("Paypal-Transmission-Time")),
		"cert_url":          strings.TrimSpace(headers.Get("Paypal-Cert-Url")),
		"auth_algo":         strings.TrimSpace(headers.Get("Paypal-Auth-Algo")),
		"transmission_sig":  strings.TrimSpace(headers.Get("Paypal-Transmission-Sig")),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     event,
	}
	for _, key := range []string{"transmission_id", "transmission_time", "cert_url", "auth_algo", "transmission_sig"} {
		if readString(payload, key) == "" {
			return fmt.Errorf("%w: missing %s", ErrWebhookVerifyFailed, key)
		}
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal verify payload failed", ErrWebhookVerifyFailed)
	}
	respBody, statusCode, err := c.doJSONRequest(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", token, reqBody, nil)
	if err != nil {
		return err
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: verify status %d", ErrWebhookVerifyFailed, statusCode)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("%w: decode verify response failed", ErrWebhookVerifyFailed)
	}
	if strings.ToUpper(strings.TrimSpace(readString(resp, "verification_status"))) != "SUCCESS" {
		return fmt.Errorf("%w: verify result is not success", ErrWebhookVerifyFailed)
	}
	return nil
}

func (c *Config) normalize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultSandboxBaseURL
	}
	c.WebhookID = strings.TrimSpace(c.WebhookID)
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

func (c *Client) requestAccessToken(ctx context.Context) (string, time.Duration, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	values := url.Values{}
	values.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(values.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: build token request failed", ErrAuthFailed)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: request token failed", ErrAuthFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read token response failed", ErrAuthFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: token status %d", ErrAuthFailed, resp.StatusCode)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("%w: decode token response failed", ErrAuthFailed)
	}
	token := strings.TrimSpace(readString(parsed, "access_token"))
	if token == "" {
		return "", 0, fmt.Errorf("%w: access_token is empty", ErrAuthFailed)
	}
	ttl := 5 * time.Minute
	if seconds, err := strconv.Atoi(readString(parsed, "expires_in")); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	if ttl > 2*tokenExpirySkew {
		ttl -= tokenExpirySkew
	}
	return token, ttl, nil
}

func (c *Client) doJSONRequest(ctx context.Context, method, endpoint, token string, body []byte, headers map[string]string) ([]byte, int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, fmt.Errorf("%w: %s %s", ErrTransferTimeout, method, endpoint)
		}
		return nil, 0, fmt.Errorf("%w: http request failed", ErrRequestFailed)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, resp.StatusCode, fmt.Errorf("%w: read response timed out", ErrTransferTimeout)
		}
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func extractErrorMessage(body []byte) string {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	if msg := strings.TrimSpace(readString(raw, "message")); msg != "" {
		if name := strings.TrimSpace(readString(raw, "name")); name != "" {
			return name + ": " + msg
		}
		return msg
	}
	if desc := strings.TrimSpace(readString(raw, "error_description")); desc != "" {
		return desc
	}
	return strings.TrimSpace(readString(raw, "name"))
}

func readString(raw map[string]interface{}, path ...string) string {
	if raw == nil {
		return ""
	}
	var current interface{} = raw
	for _, seg := range path {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return ""
			}
			current = arr[idx]
			continue
		}
		next, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current = next[seg]
	}
	if current == nil {
		return ""
	}
	if str, ok := current.(string); ok {
		return str
	}
	if f, ok := current.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", current)
}

func readArray(raw map[string]interface{}, path ...string) []interface{} {
	if raw == nil {
		return nil
	}
	var current interface{} = raw
	for _, seg := range path {
		next, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = next[seg]
	}
	arr, ok := current.([]interface{})
	if !ok {
		return nil
	}
	return arr
}
