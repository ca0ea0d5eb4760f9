package cache

import (
	"context"
	"strings"
	"time"
)

// TokenStore 基于 Redis 的网关令牌共享存储
type TokenStore struct{}

// NewTokenStore 创建令牌存储
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// GetToken 读取令牌
func (s *TokenStore) GetToken(ctx context.Context, key string) (string, bool) {
	if !Enabled() {
		return "", false
	}
	val, err := redisClient.Get(ctx, buildKey(key)).Result()
	if err != nil {
		return "", false
	}
	val = strings.TrimSpace(val)
	return val, val != ""
}

// SetToken 写入令牌，失败时静默
func (s *TokenStore) SetToken(ctx context.Context, key, token string, ttl time.Duration) {
	if !Enabled() || strings.TrimSpace(token) == "" || ttl <= 0 {
		return
	}
	_ = redisClient.Set(ctx, buildKey(key), token, ttl).Err()
}
