package worker

import (
	"context"
	"errors"
	"time"

	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/queue"

	"github.com/hibiken/asynq"
)

// Service 打款任务消费服务
type Service struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	mux := asynq.NewServeMux()
	mux.Use(taskLogMiddleware)
	consumer.Register(mux)
	return &Service{
		server: asynq.NewServer(opt, serverCfg),
		mux:    mux,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	return "worker"
}

// Start 启动消费并阻塞到 ctx 结束，信号由 Runner 统一处理
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Stop 等待在途任务结束，超过 ctx 期限直接返回
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.server.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func taskLogMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		startedAt := time.Now()
		retried, _ := asynq.GetRetryCount(ctx)
		taskID, _ := asynq.GetTaskID(ctx)
		err := next.ProcessTask(ctx, task)
		fields := []interface{}{
			"task_type", task.Type(),
			"task_id", taskID,
			"retried", retried,
			"latency_ms", time.Since(startedAt).Milliseconds(),
		}
		if err != nil {
			logger.Warnw("worker_task_failed", append(fields, "error", err)...)
			return err
		}
		logger.Debugw("worker_task_done", fields...)
		return nil
	})
}
