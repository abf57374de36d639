/*
 * @module api/middleware/performance_tracker
 * @description 请求性能跟踪中间件，测量每个chi路由的耗时、查询次数、查询耗时和内存并上报样本
 * @architecture 中间件模式 - HTTP请求拦截
 * @stateFlow 挂载查询统计 -> 执行处理器 -> 读取路由模式/状态码 -> 构建样本 -> 后台上报
 * @rules 忽略的路由、未跟踪的环境和未被采样的请求不产生样本；客户端传入的请求ID默认不可信；上报不阻塞响应；上报失败只记日志
 * @dependencies github.com/go-chi/chi/v5, runtime/metrics
 * @refs service/performance/query_tracker.go, api/routes.go
 */

package middleware

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"runtime/metrics"
	"strings"
	"sync"
	"time"

	"perfmon-service/service/config"
	"perfmon-service/service/performance"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// 用户标识请求头，由上游网关注入
const (
	HeaderUserID         = "X-User-Id"
	HeaderUserIdentifier = "X-User-Identifier"
)

// PerformanceTracker 请求性能跟踪
type PerformanceTracker struct {
	recorder performance.Recorder
	config   config.TrackingConfig
	logger   *slog.Logger
	pending  sync.WaitGroup
	// random 返回 [0,1) 的随机数，用于采样
	random func() float64
}

// NewPerformanceTracker 创建跟踪中间件
func NewPerformanceTracker(recorder performance.Recorder, cfg config.TrackingConfig, logger *slog.Logger) *PerformanceTracker {
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PerformanceTracker{recorder: recorder, config: cfg, logger: logger, random: rand.Float64}
}

// Middleware 跟踪处理函数
func (t *PerformanceTracker) Middleware(next http.Handler) http.Handler {
	if t.recorder == nil || !t.config.IsTracked(t.config.Environment) {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.sampled() {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()

		ctx := r.Context()
		var queryStats *performance.QueryStats
		if t.config.TrackQueries {
			ctx, queryStats = performance.WithQueryStats(ctx)
			r = r.WithContext(ctx)
		}

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start).Seconds()

		routePattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		// 未匹配路由不记录
		if routePattern == "" || t.isIgnored(routePattern, r.URL.Path) {
			return
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		sample := performance.MetricSample{
			RouteName:          routePattern,
			Environment:        t.config.Environment,
			RequestTimeSeconds: &elapsed,
			Params:             requestParams(r),
			HTTPMethod:         r.Method,
			StatusCode:         &status,
			RoutePath:          r.URL.Path,
			RequestID:          t.requestID(r),
			Referer:            r.Referer(),
			UserIdentifier:     r.Header.Get(HeaderUserIdentifier),
			UserID:             r.Header.Get(HeaderUserID),
		}
		if queryStats != nil {
			count, seconds := queryStats.Snapshot()
			sample.TotalQueries = &count
			sample.QueryTimeSeconds = &seconds
		}
		if t.config.TrackMemory {
			if mem, ok := heapInUse(); ok {
				sample.MemoryUsageBytes = &mem
			}
		}

		t.record(sample)
	})
}

// sampled 按采样率决定本次请求是否跟踪
func (t *PerformanceTracker) sampled() bool {
	rate := t.config.SamplingRate
	if rate >= 1 {
		return true
	}
	return t.random() < rate
}

// requestID 用于去重的请求ID。客户端自带 X-Request-Id 且未配置信任时重新生成，
// 避免重复的请求头让不同请求被当作重复样本丢弃
func (t *PerformanceTracker) requestID(r *http.Request) string {
	id := chimw.GetReqID(r.Context())
	if id == "" {
		return uuid.NewString()
	}
	if !t.config.TrustRequestID && r.Header.Get(chimw.RequestIDHeader) != "" {
		return uuid.NewString()
	}
	return id
}

// record 后台上报样本
func (t *PerformanceTracker) record(sample performance.MetricSample) {
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.config.RecordTimeout)
		defer cancel()

		if _, err := t.recorder.Record(ctx, sample); err != nil {
			t.logger.Error("上报性能样本失败",
				"route", sample.RouteName,
				"request_id", sample.RequestID,
				"error", err)
		}
	}()
}

// Wait 等待已发起的上报结束
func (t *PerformanceTracker) Wait() {
	t.pending.Wait()
}

// isIgnored 支持精确匹配和以 * 结尾的前缀匹配，同时匹配路由模式和实际路径
func (t *PerformanceTracker) isIgnored(pattern, path string) bool {
	for _, ignore := range t.config.IgnoreRoutes {
		if prefix, ok := strings.CutSuffix(ignore, "*"); ok {
			if strings.HasPrefix(pattern, prefix) || strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if pattern == ignore || path == ignore {
			return true
		}
	}
	return false
}

// requestParams 路由参数和查询参数，多值查询参数保留为列表
func requestParams(r *http.Request) map[string]interface{} {
	params := make(map[string]interface{})
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" || i >= len(rctx.URLParams.Values) {
				continue
			}
			params[key] = rctx.URLParams.Values[i]
		}
	}
	for key, values := range r.URL.Query() {
		if _, exists := params[key]; exists {
			continue
		}
		if len(values) == 1 {
			params[key] = values[0]
		} else {
			params[key] = values
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// heapInUse 当前堆上存活对象占用字节数
func heapInUse() (int64, bool) {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0, false
	}
	return int64(sample[0].Value.Uint64()), true
}
