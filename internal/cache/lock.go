package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockNotObtained 锁已被其他实例持有
var ErrLockNotObtained = errors.New("lock not obtained")

// ObtainLock 获取分布式锁，Redis 未启用时返回空操作的释放函数
func ObtainLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if !Enabled() || redisLocker == nil {
		return func() {}, nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lock, err := redisLocker.Obtain(ctx, buildKey("lock:"+key), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return func() {}, ErrLockNotObtained
	}
	if err != nil {
		return func() {}, err
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
