package config

import (
	"fmt"
	"strings"

	"github.com/bookd-next/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	CORS       CORSConfig       `mapstructure:"cors"`
	PayPal     PayPalConfig     `mapstructure:"paypal"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Payout     PayoutConfig     `mapstructure:"payout"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Stdout     bool   `mapstructure:"stdout"`
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Level,
		Stdout:     c.Stdout,
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// AuthConfig 调用方令牌校验配置（令牌由外部认证服务签发）
type AuthConfig struct {
	SecretKey string `mapstructure:"secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// PayPalConfig PayPal Payouts 配置
type PayPalConfig struct {
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	BaseURL        string `mapstructure:"base_url"`
	WebhookID      string `mapstructure:"webhook_id"`
	Currency       string `mapstructure:"currency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	EmailSubject   string `mapstructure:"email_subject"`
	EmailMessage   string `mapstructure:"email_message"`
}

// TierConfig 套餐费率配置
type TierConfig struct {
	BrokerRate              string `mapstructure:"broker_rate"`
	PlatformRate            string `mapstructure:"platform_rate"`
	MonthlyRequestAllowance int    `mapstructure:"monthly_request_allowance"`
}

// SettlementConfig 费用与收益规则
type SettlementConfig struct {
	Tiers              map[string]TierConfig `mapstructure:"tiers"`
	EarningsBasisRate  string                `mapstructure:"earnings_basis_rate"`
	TruckerShareRate   string                `mapstructure:"trucker_share_rate"`
	MonthlyCap         string                `mapstructure:"monthly_cap"`
	MaturationDays     int                   `mapstructure:"maturation_days"`
	RecruiterBonusRate string                `mapstructure:"recruiter_bonus_rate"`
	CapMaxRetries      int                   `mapstructure:"cap_max_retries"`
}

// PayoutConfig 打款编排配置
type PayoutConfig struct {
	AutoSubmitOnApprove       bool `mapstructure:"auto_submit_on_approve"`
	LockTTLSeconds            int  `mapstructure:"lock_ttl_seconds"`
	StuckAfterMinutes         int  `mapstructure:"stuck_after_minutes"`
	ReconcileIntervalSeconds  int  `mapstructure:"reconcile_interval_seconds"`
	MaturationIntervalSeconds int  `mapstructure:"maturation_interval_seconds"`
	ReconcileBatchSize        int  `mapstructure:"reconcile_batch_size"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Webhook      RateLimitRuleConfig `mapstructure:"webhook"`
	PayoutSubmit RateLimitRuleConfig `mapstructure:"payout_submit"`
}

// RateLimitRuleConfig 单条限流规则
type RateLimitRuleConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// Load 从 .env 与 config.yml 加载配置
func Load() *Config {
	// .env 仅用于本地开发，缺失时忽略
	if err := godotenv.Load(); err == nil {
		logger.Infow("config_dotenv_loaded", "file", ".env")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../")
	v.AddConfigPath("./etc")

	SetDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // server.port -> SERVER_PORT

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return &cfg
}

// SetDefaults 写入全部默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "")
	v.SetDefault("log.stdout", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "bookd.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/bookd.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("auth.secret", "change-me-in-production")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "bookd")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"critical": 6,
		"default":  3,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.client_secret", "")
	v.SetDefault("paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("paypal.webhook_id", "")
	v.SetDefault("paypal.currency", "USD")
	v.SetDefault("paypal.timeout_seconds", 12)
	v.SetDefault("paypal.email_subject", "You have a payment from Bookd")
	v.SetDefault("paypal.email_message", "Your early pay has been sent.")
	v.SetDefault("settlement.tiers", map[string]interface{}{
		"free":       map[string]interface{}{"broker_rate": "0.03", "platform_rate": "0.01", "monthly_request_allowance": 0},
		"pro":        map[string]interface{}{"broker_rate": "0.04", "platform_rate": "0", "monthly_request_allowance": 0},
		"enterprise": map[string]interface{}{"broker_rate": "0.04", "platform_rate": "0", "monthly_request_allowance": 0},
	})
	v.SetDefault("settlement.earnings_basis_rate", "0.05")
	v.SetDefault("settlement.trucker_share_rate", "0.10")
	v.SetDefault("settlement.monthly_cap", "100.00")
	v.SetDefault("settlement.maturation_days", 7)
	v.SetDefault("settlement.recruiter_bonus_rate", "0.10")
	v.SetDefault("settlement.cap_max_retries", 5)
	v.SetDefault("payout.auto_submit_on_approve", false)
	v.SetDefault("payout.lock_ttl_seconds", 30)
	v.SetDefault("payout.stuck_after_minutes", 60)
	v.SetDefault("payout.reconcile_interval_seconds", 300)
	v.SetDefault("payout.maturation_interval_seconds", 60)
	v.SetDefault("payout.reconcile_batch_size", 100)
	v.SetDefault("rate_limit.webhook.window_seconds", 60)
	v.SetDefault("rate_limit.webhook.max_requests", 600)
	v.SetDefault("rate_limit.payout_submit.window_seconds", 60)
	v.SetDefault("rate_limit.payout_submit.max_requests", 20)
}
