package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/constants"
	"github.com/bookd-next/internal/logger"

	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry    = 5
	maxRetryBackoff    = 10 * time.Minute
	baseRetryBackoff   = 15 * time.Second
	defaultConcurrency = 10
)

// Client 打款任务投递客户端，未启用时所有投递为空操作
type Client struct {
	client *asynq.Client
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{}, nil
	}
	return &Client{client: asynq.NewClient(buildRedisOpt(cfg))}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// EnqueuePayoutSubmit 推送打款提交任务，同一申请同时只保留一个待执行任务
func (c *Client) EnqueuePayoutSubmit(payload PayoutSubmitPayload, opts ...asynq.Option) error {
	task, err := NewPayoutSubmitTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, constants.QueueCritical, fmt.Sprintf("%s:%d", TaskPayoutSubmit, payload.RequestID), opts)
}

// EnqueueEarningsCashOut 推送收益提现任务，同一提现单同时只保留一个待执行任务
func (c *Client) EnqueueEarningsCashOut(payload EarningsCashOutPayload, opts ...asynq.Option) error {
	task, err := NewEarningsCashOutTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, constants.QueueDefault, fmt.Sprintf("%s:%d", TaskEarningsCashOut, payload.PayoutID), opts)
}

func (c *Client) enqueue(task *asynq.Task, queueName, taskID string, opts []asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	options := append([]asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(taskID),
		asynq.MaxRetry(defaultMaxRetry),
	}, opts...)
	info, err := c.client.Enqueue(task, options...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Debugw("queue_task_already_enqueued", "task_type", task.Type(), "task_id", taskID)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Debugw("queue_task_enqueued", "task_type", task.Type(), "task_id", info.ID, "queue", info.Queue)
	return nil
}

// BuildServerConfig 生成消费端配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	concurrency := defaultConcurrency
	queues := map[string]int{constants.QueueCritical: 2, constants.QueueDefault: 1}
	if cfg != nil {
		if cfg.Concurrency > 0 {
			concurrency = cfg.Concurrency
		}
		if len(cfg.Queues) > 0 {
			queues = cfg.Queues
		}
	}
	return buildRedisOpt(cfg), asynq.Config{
		Concurrency:     concurrency,
		Queues:          queues,
		RetryDelayFunc:  RetryDelay,
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warnw("queue_task_error",
				"task_type", task.Type(),
				"retried", retried,
				"max_retry", maxRetry,
				"error", err,
			)
		}),
	}
}

// RetryDelay 指数退避，15s 起，上限 10 分钟
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := baseRetryBackoff
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return delay
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	opt := asynq.RedisClientOpt{}
	if cfg != nil {
		if h := strings.TrimSpace(cfg.Host); h != "" {
			host = h
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		opt.Password = cfg.Password
		opt.DB = cfg.DB
	}
	opt.Addr = fmt.Sprintf("%s:%d", host, port)
	return opt
}
