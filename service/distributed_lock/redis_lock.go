/*
 * @module service/distributed_lock/redis_lock
 * @description Redis分布式锁，多实例部署时保证定时清理只在一个实例上执行
 * @architecture 工具层 - 提供分布式锁能力
 * @stateFlow 获取锁 -> 执行任务 -> 释放锁/自动过期
 * @rules 使用Redis SET NX实现；只有持有者才能释放锁
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/init.go, service/performance/retention_service.go
 */

package distributed_lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultKeyPrefix = "perfmon:lock:"

// unlockScript 检查锁的持有者是否是当前实例，是则删除
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// TryLock 尝试获取锁
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error
}

// RedisLock Redis分布式锁实现
type RedisLock struct {
	client     *redis.Client
	keyPrefix  string
	instanceID string // 实例ID，用于标识锁的持有者
	logger     *slog.Logger
}

// NewRedisLock 基于已有客户端创建锁，实例ID使用主机名+进程ID
func NewRedisLock(client *redis.Client, keyPrefix string, logger *slog.Logger) *RedisLock {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()
	return &RedisLock{
		client:     client,
		keyPrefix:  keyPrefix,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		logger:     logger,
	}
}

// TryLock 尝试获取锁
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.keyPrefix+key, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	if ok {
		r.logger.Debug("成功获取分布式锁", "key", key, "ttl", ttl, "instance", r.instanceID)
	}
	return ok, nil
}

// Unlock 释放锁
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	result, err := unlockScript.Run(ctx, r.client, []string{r.keyPrefix + key}, r.instanceID).Int64()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if result == 0 {
		r.logger.Warn("锁不存在或已被其他实例持有", "key", key, "instance", r.instanceID)
	}
	return nil
}

// LockExecutor 带锁执行器
type LockExecutor struct {
	lock   DistributedLock
	logger *slog.Logger
}

// NewLockExecutor 创建带锁执行器
func NewLockExecutor(lock DistributedLock, logger *slog.Logger) *LockExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockExecutor{lock: lock, logger: logger}
}

// ExecuteWithLock 在锁保护下执行函数；锁被其他实例持有时跳过，不视为错误
func (e *LockExecutor) ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	locked, err := e.lock.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !locked {
		e.logger.Info("锁已被其他实例持有，跳过执行", "key", key)
		return nil
	}

	defer func() {
		if err := e.lock.Unlock(context.WithoutCancel(ctx), key); err != nil {
			e.logger.Error("释放分布式锁失败", "key", key, "error", err)
		}
	}()

	return fn()
}
