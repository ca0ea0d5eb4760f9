package main

import (
	"fmt"
	"time"

	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/models"
	"github.com/bookd-next/internal/service"

	"github.com/shopspring/decimal"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, false); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 推荐人司机
	recruiter := models.Trucker{
		Name:         "Rita Recruiter",
		Email:        "rita@example.com",
		PayoutMethod: constants.PayoutMethodPayPal,
		PaypalEmail:  "rita@example.com",
	}
	ensureTrucker(stdLog, &recruiter)

	// 经纪商（由推荐人邀请入驻）
	brokers := []models.Broker{
		{Name: "Freeway Logistics", Email: "ops@freeway.example.com", Tier: constants.BrokerTierFree, ReferredByTruckerID: &recruiter.ID},
		{Name: "Summit Freight", Email: "ops@summit.example.com", Tier: constants.BrokerTierPro},
	}
	for i := range brokers {
		ensureBroker(stdLog, &brokers[i])
	}

	// 普通司机
	truckers := []models.Trucker{
		{
			Name:                 "Tom Hauler",
			Email:                "tom@example.com",
			PayoutMethod:         constants.PayoutMethodPayPal,
			PaypalEmail:          "tom@example.com",
			BonusCreditRemaining: models.NewMoneyFromDecimal(decimal.NewFromInt(25)),
			RecruiterID:          &recruiter.ID,
		},
		{
			Name:         "Vera Wheels",
			Email:        "vera@example.com",
			PayoutMethod: constants.PayoutMethodVenmo,
			VenmoHandle:  "@vera-wheels",
		},
		{
			Name:         "Manny Manual",
			Email:        "manny@example.com",
			PayoutMethod: constants.PayoutMethodManual,
		},
	}
	for i := range truckers {
		ensureTrucker(stdLog, &truckers[i])
	}

	if cfg.Auth.SecretKey == "" {
		stdLog.Printf("auth.secret is empty, skip issuing dev tokens")
		return
	}

	// 开发令牌
	fmt.Println("Dev tokens (valid for 7 days):")
	printToken(cfg, constants.ActorRoleOperator, 0, "operator")
	for _, broker := range brokers {
		printToken(cfg, constants.ActorRoleBroker, broker.ID, broker.Name)
	}
	printToken(cfg, constants.ActorRoleTrucker, recruiter.ID, recruiter.Name)
	for _, trucker := range truckers {
		printToken(cfg, constants.ActorRoleTrucker, trucker.ID, trucker.Name)
	}
}

type printfLogger interface {
	Printf(format string, v ...interface{})
}

func ensureBroker(stdLog printfLogger, broker *models.Broker) {
	var existing models.Broker
	if err := models.DB.Where("email = ?", broker.Email).First(&existing).Error; err == nil {
		stdLog.Printf("Broker already exists: %s", broker.Email)
		*broker = existing
		return
	}
	if err := models.DB.Create(broker).Error; err != nil {
		stdLog.Printf("Failed to create broker %s: %v", broker.Email, err)
		return
	}
	stdLog.Printf("Created broker: %s (id=%d, tier=%s)", broker.Email, broker.ID, broker.Tier)
}

func ensureTrucker(stdLog printfLogger, trucker *models.Trucker) {
	var existing models.Trucker
	if err := models.DB.Where("email = ?", trucker.Email).First(&existing).Error; err == nil {
		stdLog.Printf("Trucker already exists: %s", trucker.Email)
		*trucker = existing
		return
	}
	if err := models.DB.Create(trucker).Error; err != nil {
		stdLog.Printf("Failed to create trucker %s: %v", trucker.Email, err)
		return
	}
	stdLog.Printf("Created trucker: %s (id=%d)", trucker.Email, trucker.ID)
}

func printToken(cfg *config.Config, role string, id uint, label string) {
	token, err := service.IssueActorToken(cfg.Auth.SecretKey, cfg.Auth.Issuer, role, id, 7*24*time.Hour)
	if err != nil {
		fmt.Printf("  %-8s %-20s error: %v\n", role, label, err)
		return
	}
	fmt.Printf("  %-8s %-20s %s\n", role, label, token)
}
