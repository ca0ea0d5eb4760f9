package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bookd-next/internal/cache"
	"github.com/bookd-next/internal/config"
	"github.com/bookd-next/internal/logger"
	"github.com/bookd-next/internal/provider"
	"github.com/bookd-next/internal/service"
)

const (
	defaultMaturationInterval = time.Minute
	defaultReconcileInterval  = 5 * time.Minute
)

// Maturer 收益到期转为可提现
type Maturer interface {
	MatureDueEntries() (int64, error)
}

// Reconciler 卡单对账
type Reconciler interface {
	ReconcileStuckPayouts(ctx context.Context, now time.Time) (*service.ReconcileReport, error)
}

// Scheduler 周期任务（收益到期、卡单对账），不依赖异步队列
type Scheduler struct {
	name               string
	maturer            Maturer
	reconciler         Reconciler
	maturationInterval time.Duration
	reconcileInterval  time.Duration
	now                func() time.Time

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewScheduler 创建周期任务服务
func NewScheduler(cfg config.PayoutConfig, maturer Maturer, reconciler Reconciler) *Scheduler {
	maturationInterval := time.Duration(cfg.MaturationIntervalSeconds) * time.Second
	if maturationInterval <= 0 {
		maturationInterval = defaultMaturationInterval
	}
	reconcileInterval := time.Duration(cfg.ReconcileIntervalSeconds) * time.Second
	if reconcileInterval <= 0 {
		reconcileInterval = defaultReconcileInterval
	}
	return &Scheduler{
		name:               "scheduler",
		maturer:            maturer,
		reconciler:         reconciler,
		maturationInterval: maturationInterval,
		reconcileInterval:  reconcileInterval,
		now:                time.Now,
		stop:               make(chan struct{}),
	}
}

// NewSchedulerFromContainer 从容器组装周期任务
func NewSchedulerFromContainer(c *provider.Container) *Scheduler {
	var maturer Maturer
	var reconciler Reconciler
	if c.EarningsAdminService != nil {
		maturer = c.EarningsAdminService
	}
	if c.PayoutReconcileService != nil {
		reconciler = c.PayoutReconcileService
	}
	return NewScheduler(c.Config.Payout, maturer, reconciler)
}

// Name 服务名称
func (s *Scheduler) Name() string {
	if s == nil || s.name == "" {
		return "scheduler"
	}
	return s.name
}

// Start 启动周期任务，阻塞至 ctx 结束或 Stop
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("scheduler not initialized")
	}
	if s.maturer != nil {
		s.wg.Add(1)
		go s.loop(ctx, s.maturationInterval, s.MatureOnce)
	}
	if s.reconciler != nil {
		s.wg.Add(1)
		go s.loop(ctx, s.reconcileInterval, s.ReconcileOnce)
	}
	select {
	case <-ctx.Done():
	case <-s.stop:
	}
	s.wg.Wait()
	return nil
}

// Stop 停止周期任务
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.once.Do(func() { close(s.stop) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()
	run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// MatureOnce 执行一次收益到期
func (s *Scheduler) MatureOnce(ctx context.Context) {
	release, err := cache.ObtainLock(ctx, "scheduler:maturation", s.maturationInterval)
	if errors.Is(err, cache.ErrLockNotObtained) {
		return
	}
	defer release()
	count, err := s.maturer.MatureDueEntries()
	if err != nil {
		logger.Warnw("worker_earnings_mature_failed", "error", err)
		return
	}
	if count > 0 {
		logger.Infow("worker_earnings_matured", "count", count)
	}
}

// ReconcileOnce 执行一次卡单对账，多实例时只有持锁实例执行
func (s *Scheduler) ReconcileOnce(ctx context.Context) {
	release, err := cache.ObtainLock(ctx, "scheduler:reconcile", s.reconcileInterval)
	if errors.Is(err, cache.ErrLockNotObtained) {
		logger.Debugw("worker_reconcile_skip_locked")
		return
	}
	defer release()
	if _, err := s.reconciler.ReconcileStuckPayouts(ctx, s.now()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warnw("worker_reconcile_failed", "error", err)
	}
}
