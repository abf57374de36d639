/*
 * @module service/performance/cache
 * @description 路由统计缓存，按环境缓存聚合结果，新记录写入时失效
 * @architecture 缓存旁路模式 - Redis实现
 * @stateFlow 查询版本 -> 命中返回 / 未命中按读到的版本计算后写回；记录追加 -> 版本号递增
 * @rules 缓存不可用时降级为直接计算，缓存错误不影响主流程
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/performance/statistics_service.go, service/performance/recording_service.go
 */

package performance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultCacheTTL 默认缓存时间
const DefaultCacheTTL = time.Hour

// StatisticsCache 统计缓存接口
// Get 返回当前版本号，Set 只写入该版本；Invalidate 递增版本，旧版本写入的数据不会再被读到
type StatisticsCache interface {
	Get(ctx context.Context, env string) (stats []RouteAggregates, version int64, hit bool, err error)
	Set(ctx context.Context, env string, version int64, stats []RouteAggregates) error
	Invalidate(ctx context.Context, env string) error
}

// RedisStatisticsCache Redis统计缓存
type RedisStatisticsCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisCacheConfig Redis缓存配置
type RedisCacheConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisStatisticsCache 创建Redis统计缓存并检查连接
func NewRedisStatisticsCache(cfg RedisCacheConfig) (*RedisStatisticsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	return NewRedisStatisticsCacheWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStatisticsCacheWithClient 使用已有客户端创建缓存
func NewRedisStatisticsCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStatisticsCache {
	if keyPrefix == "" {
		keyPrefix = "perfmon:stats:"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisStatisticsCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Client 底层客户端，供分布式锁复用连接
func (c *RedisStatisticsCache) Client() *redis.Client {
	return c.client
}

func (c *RedisStatisticsCache) versionKey(env string) string {
	return c.keyPrefix + "version:" + env
}

func (c *RedisStatisticsCache) key(env string, version int64) string {
	return fmt.Sprintf("%s%s:v%d", c.keyPrefix, env, version)
}

// Get 读取当前版本的缓存
func (c *RedisStatisticsCache) Get(ctx context.Context, env string) ([]RouteAggregates, int64, bool, error) {
	version, err := c.client.Get(ctx, c.versionKey(env)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("读取统计缓存版本失败: %w", err)
	}

	raw, err := c.client.Get(ctx, c.key(env, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, version, false, fmt.Errorf("读取统计缓存失败: %w", err)
	}

	var stats []RouteAggregates
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, version, false, fmt.Errorf("解析统计缓存失败: %w", err)
	}
	return stats, version, true, nil
}

// Set 写入指定版本的缓存
func (c *RedisStatisticsCache) Set(ctx context.Context, env string, version int64, stats []RouteAggregates) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("序列化统计数据失败: %w", err)
	}
	if err := c.client.Set(ctx, c.key(env, version), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入统计缓存失败: %w", err)
	}
	return nil
}

// Invalidate 递增环境版本号，旧版本数据随TTL过期
func (c *RedisStatisticsCache) Invalidate(ctx context.Context, env string) error {
	if err := c.client.Incr(ctx, c.versionKey(env)).Err(); err != nil {
		return fmt.Errorf("清除统计缓存失败: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (c *RedisStatisticsCache) Close() error {
	return c.client.Close()
}
