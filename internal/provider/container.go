package provider

import (
	"time"

	"github.com/bookd-next/internal/cache"
	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/payment/paypal"
	"github.com/bookd-next/internal/queue"
	"github.com/bookd-next/internal/repository"
	"github.com/bookd-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config       *config.Config
	QueueClient  *queue.Client
	PayPalClient *paypal.Client
	Policy       service.SettlementPolicy

	// Repositories
	EarlyPayRequestRepo repository.EarlyPayRequestRepository
	BrokerRepo          repository.BrokerRepository
	TruckerRepo         repository.TruckerRepository
	EarningsRepo        repository.EarningsRepository
	PayoutAuditRepo     repository.PayoutAuditRepository

	// Services
	FeeCalculator          *service.FeeCalculator
	EarningsLedger         *service.EarningsLedger
	EarlyPayService        *service.EarlyPayService
	PayoutService          *service.PayoutService
	PayoutWebhookService   *service.PayoutWebhookService
	EarningsCashOutService *service.EarningsCashOutService
	PayoutReconcileService *service.PayoutReconcileService
	EarningsAdminService   *service.EarningsAdminService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	policy, err := service.NewSettlementPolicy(cfg.Settlement)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Policy:      policy,
	}
	c.initPayPal()

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c, nil
}

func (c *Container) initPayPal() {
	ppCfg := paypal.Config{
		ClientID:     c.Config.PayPal.ClientID,
		ClientSecret: c.Config.PayPal.ClientSecret,
		BaseURL:      c.Config.PayPal.BaseURL,
		WebhookID:    c.Config.PayPal.WebhookID,
		Currency:     c.Config.PayPal.Currency,
		EmailSubject: c.Config.PayPal.EmailSubject,
		EmailMessage: c.Config.PayPal.EmailMessage,
		Timeout:      time.Duration(c.Config.PayPal.TimeoutSeconds) * time.Second,
	}
	client, err := paypal.NewClient(ppCfg, paypal.WithTokenStore(cache.NewTokenStore()))
	if err != nil {
		logger.Warnw("provider_paypal_not_configured", "error", err)
		return
	}
	c.PayPalClient = client
}

func (c *Container) initRepositories() {
	db := models.DB
	c.EarlyPayRequestRepo = repository.NewEarlyPayRequestRepository(db)
	c.BrokerRepo = repository.NewBrokerRepository(db)
	c.TruckerRepo = repository.NewTruckerRepository(db)
	c.EarningsRepo = repository.NewEarningsRepository(db)
	c.PayoutAuditRepo = repository.NewPayoutAuditRepository(db)
}

func (c *Container) initServices() {
	// 未配置网关时保持 nil 接口，提交类操作返回 ErrGatewayNotConfigured
	var gateway service.PayoutGateway
	var verifier service.WebhookVerifier
	if c.PayPalClient != nil {
		gateway = c.PayPalClient
		verifier = c.PayPalClient
	}
	payoutOpts := service.PayoutServiceOptions{
		Currency: c.Config.PayPal.Currency,
		LockTTL:  time.Duration(c.Config.Payout.LockTTLSeconds) * time.Second,
	}

	c.FeeCalculator = service.NewFeeCalculator(c.Policy)
	c.EarningsLedger = service.NewEarningsLedger(c.EarningsRepo, c.TruckerRepo, c.Policy)
	c.EarlyPayService = service.NewEarlyPayService(c.EarlyPayRequestRepo, c.BrokerRepo, c.TruckerRepo, c.FeeCalculator, c.Policy, c.QueueClient, c.Config.Payout.AutoSubmitOnApprove)
	c.PayoutService = service.NewPayoutService(c.EarlyPayRequestRepo, c.BrokerRepo, c.TruckerRepo, c.PayoutAuditRepo, c.EarningsLedger, gateway, payoutOpts)
	c.EarningsCashOutService = service.NewEarningsCashOutService(c.EarningsRepo, c.TruckerRepo, gateway, c.QueueClient, payoutOpts)
	c.PayoutWebhookService = service.NewPayoutWebhookService(c.EarlyPayRequestRepo, c.PayoutAuditRepo, verifier, c.PayoutService, c.EarningsCashOutService)
	c.PayoutReconcileService = service.NewPayoutReconcileService(
		c.EarlyPayRequestRepo,
		c.EarningsRepo,
		c.PayoutAuditRepo,
		c.PayoutService,
		c.PayoutWebhookService,
		c.EarningsCashOutService,
		gateway,
		service.ReconcileOptions{
			StuckAfter: time.Duration(c.Config.Payout.StuckAfterMinutes) * time.Minute,
			BatchSize:  c.Config.Payout.ReconcileBatchSize,
		},
	)
	c.EarningsAdminService = service.NewEarningsAdminService(c.EarningsRepo, c.PayoutAuditRepo, c.EarningsLedger)
}

// Close 释放队列客户端与 Redis 连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_client_failed", "error", err)
		}
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
