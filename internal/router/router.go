package router

import (
	"fmt"
	"strings"

	"github.com/bookd-next/internal/cache"
	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/constants"
	adminhandlers "github.com/bookd-next/internal/http/handlers/admin"
	publichandlers "github.com/bookd-next/internal/http/handlers/public"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "bookd"
	}
	redisClient := cache.Client()
	webhookRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:webhook", redisPrefix),
		WindowSeconds: cfg.RateLimit.Webhook.WindowSeconds,
		MaxRequests:   cfg.RateLimit.Webhook.MaxRequests,
		FailOpen:      true,
	}
	payoutSubmitRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:payout_submit", redisPrefix),
		WindowSeconds: cfg.RateLimit.PayoutSubmit.WindowSeconds,
		MaxRequests:   cfg.RateLimit.PayoutSubmit.MaxRequests,
		Message:       "payout submitted too often",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		// 网关回调（签名校验在服务层）
		apiV1.POST("/webhooks/paypal/payouts", RateLimitMiddleware(redisClient, webhookRule, KeyByIP), publicHandler.PaypalPayoutWebhook)

		authed := apiV1.Group("")
		authed.Use(ActorAuthMiddleware(cfg.Auth))
		{
			authed.POST("/fees/quote", publicHandler.QuoteFee)

			authed.POST("/early-pay/requests", publicHandler.CreateEarlyPay)
			authed.GET("/early-pay/requests", publicHandler.ListEarlyPay)
			authed.GET("/early-pay/requests/:id", publicHandler.GetEarlyPay)
			authed.POST("/early-pay/requests/:id/approve", publicHandler.ApproveEarlyPay)
			authed.POST("/early-pay/requests/:id/reject", publicHandler.RejectEarlyPay)
			authed.POST("/early-pay/requests/:id/payout", RateLimitMiddleware(redisClient, payoutSubmitRule, KeyByActorAndParam("id")), publicHandler.SubmitPayout)

			authed.GET("/earnings/balance", publicHandler.GetEarningsBalance)
			authed.GET("/earnings/entries", publicHandler.ListEarningsEntries)
			authed.POST("/earnings/cash-out", publicHandler.RequestCashOut)
		}

		// 运营接口
		admin := apiV1.Group("/admin")
		admin.Use(ActorAuthMiddleware(cfg.Auth), RequireRoleMiddleware(constants.ActorRoleOperator))
		{
			admin.GET("/review-flags", adminHandler.ListReviewFlags)
			admin.POST("/review-flags/:id/resolve", adminHandler.ResolveReviewFlag)

			admin.POST("/payouts/reconcile", adminHandler.RunReconcile)
			admin.GET("/payouts/reconcile/last", adminHandler.GetLastReconcileReport)

			admin.GET("/earnings", adminHandler.ListEarningsEntries)
			admin.GET("/earnings/export", adminHandler.ExportEarnings)
			admin.POST("/earnings/mature", adminHandler.MatureEarnings)
			admin.POST("/early-pay/requests/:id/clawback", adminHandler.ClawBackRequest)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
