package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"perfmon-service/service/config"
	"perfmon-service/service/performance"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// captureRecorder 记录收到的样本
type captureRecorder struct {
	mu      sync.Mutex
	samples []performance.MetricSample
}

func (c *captureRecorder) Record(ctx context.Context, sample performance.MetricSample) (*performance.RecordOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, sample)
	return &performance.RecordOutcome{Status: performance.OutcomeRecorded}, nil
}

func (c *captureRecorder) all() []performance.MetricSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]performance.MetricSample(nil), c.samples...)
}

func trackingConfig() config.TrackingConfig {
	cfg := config.Default().Tracking
	cfg.Environment = "prod"
	return cfg
}

func newTrackedRouter(tracker *PerformanceTracker) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(tracker.Middleware)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/swagger/*", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func TestPerformanceTracker_RecordsRouteSample(t *testing.T) {
	recorder := &captureRecorder{}
	tracker := NewPerformanceTracker(recorder, trackingConfig(), nil)
	router := newTrackedRouter(tracker)

	req := httptest.NewRequest(http.MethodGet, "/users/42?tab=orders", nil)
	req.Header.Set("Referer", "http://app.local/home")
	req.Header.Set(HeaderUserID, "u-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	tracker.Wait()

	samples := recorder.all()
	require.Len(t, samples, 1)
	s := samples[0]
	assert.Equal(t, "/users/{id}", s.RouteName)
	assert.Equal(t, "prod", s.Environment)
	assert.Equal(t, "/users/42", s.RoutePath)
	assert.Equal(t, http.MethodGet, s.HTTPMethod)
	assert.Equal(t, http.StatusTeapot, *s.StatusCode)
	assert.NotEmpty(t, s.RequestID)
	assert.Equal(t, "http://app.local/home", s.Referer)
	assert.Equal(t, "u-1", s.UserID)
	assert.Equal(t, map[string]interface{}{"id": "42", "tab": "orders"}, s.Params)
	require.NotNil(t, s.RequestTimeSeconds)
	assert.GreaterOrEqual(t, *s.RequestTimeSeconds, 0.0)
	require.NotNil(t, s.TotalQueries)
	assert.EqualValues(t, 0, *s.TotalQueries)
	require.NotNil(t, s.MemoryUsageBytes)
	assert.Positive(t, *s.MemoryUsageBytes)
	assert.NoError(t, s.Validate())
}

func TestPerformanceTracker_DefaultStatusIsOK(t *testing.T) {
	recorder := &captureRecorder{}
	tracker := NewPerformanceTracker(recorder, trackingConfig(), nil)
	router := newTrackedRouter(tracker)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
	tracker.Wait()

	samples := recorder.all()
	require.Len(t, samples, 1)
	assert.Equal(t, http.StatusOK, *samples[0].StatusCode)
	assert.Nil(t, samples[0].Params)
}

func TestPerformanceTracker_Skips(t *testing.T) {
	t.Run("忽略的路由", func(t *testing.T) {
		recorder := &captureRecorder{}
		tracker := NewPerformanceTracker(recorder, trackingConfig(), nil)
		router := newTrackedRouter(tracker)

		for _, path := range []string{"/health", "/swagger/index.html", "/not-found"} {
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		}
		tracker.Wait()
		assert.Empty(t, recorder.all())
	})

	t.Run("未跟踪的环境", func(t *testing.T) {
		cfg := trackingConfig()
		cfg.TrackedEnvironments = []string{"staging"}
		recorder := &captureRecorder{}
		tracker := NewPerformanceTracker(recorder, cfg, nil)
		router := newTrackedRouter(tracker)

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
		tracker.Wait()
		assert.Empty(t, recorder.all())
	})

	t.Run("跟踪关闭", func(t *testing.T) {
		cfg := trackingConfig()
		cfg.Enabled = false
		recorder := &captureRecorder{}
		tracker := NewPerformanceTracker(recorder, cfg, nil)
		router := newTrackedRouter(tracker)

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
		tracker.Wait()
		assert.Empty(t, recorder.all())
	})
}

func TestPerformanceTracker_SamplingRate(t *testing.T) {
	serve := func(t *testing.T, rate float64, random func() float64, n int) []performance.MetricSample {
		cfg := trackingConfig()
		cfg.SamplingRate = rate
		recorder := &captureRecorder{}
		tracker := NewPerformanceTracker(recorder, cfg, nil)
		if random != nil {
			tracker.random = random
		}
		router := newTrackedRouter(tracker)
		for i := 0; i < n; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
		tracker.Wait()
		return recorder.all()
	}

	t.Run("采样率为0时不记录但正常响应", func(t *testing.T) {
		assert.Empty(t, serve(t, 0, nil, 20))
	})

	t.Run("采样率为1时全部记录", func(t *testing.T) {
		assert.Len(t, serve(t, 1, func() float64 { return 0.999999 }, 20), 20)
	})

	t.Run("按随机数决定", func(t *testing.T) {
		values := []float64{0.1, 0.6, 0.49, 0.5}
		i := 0
		next := func() float64 {
			v := values[i%len(values)]
			i++
			return v
		}
		assert.Len(t, serve(t, 0.5, next, len(values)), 2)
	})
}

func TestPerformanceTracker_RequestID(t *testing.T) {
	send := func(t *testing.T, trust bool, header string, n int) []performance.MetricSample {
		cfg := trackingConfig()
		cfg.TrustRequestID = trust
		recorder := &captureRecorder{}
		tracker := NewPerformanceTracker(recorder, cfg, nil)
		router := newTrackedRouter(tracker)
		for i := 0; i < n; i++ {
			req := httptest.NewRequest(http.MethodGet, "/plain", nil)
			if header != "" {
				req.Header.Set(chimw.RequestIDHeader, header)
			}
			router.ServeHTTP(httptest.NewRecorder(), req)
		}
		tracker.Wait()
		return recorder.all()
	}

	t.Run("客户端重复的请求头不会产生相同请求ID", func(t *testing.T) {
		samples := send(t, false, "fixed-id", 3)
		require.Len(t, samples, 3)
		seen := map[string]bool{}
		for _, s := range samples {
			assert.NotEqual(t, "fixed-id", s.RequestID)
			assert.NotEmpty(t, s.RequestID)
			seen[s.RequestID] = true
		}
		assert.Len(t, seen, 3)
	})

	t.Run("信任网关时沿用请求头", func(t *testing.T) {
		samples := send(t, true, "gateway-123", 1)
		require.Len(t, samples, 1)
		assert.Equal(t, "gateway-123", samples[0].RequestID)
	})

	t.Run("服务端生成的请求ID直接使用", func(t *testing.T) {
		samples := send(t, false, "", 2)
		require.Len(t, samples, 2)
		assert.NotEqual(t, samples[0].RequestID, samples[1].RequestID)
	})

	t.Run("未挂载RequestID中间件时生成", func(t *testing.T) {
		recorder := &captureRecorder{}
		tracker := NewPerformanceTracker(recorder, trackingConfig(), nil)
		r := chi.NewRouter()
		r.Use(tracker.Middleware)
		r.Get("/plain", func(w http.ResponseWriter, r *http.Request) {})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
		tracker.Wait()
		require.Len(t, recorder.all(), 1)
		assert.NotEmpty(t, recorder.all()[0].RequestID)
	})
}

func TestPerformanceTracker_QueryStatsInContext(t *testing.T) {
	recorder := &captureRecorder{}
	tracker := NewPerformanceTracker(recorder, trackingConfig(), nil)

	r := chi.NewRouter()
	r.Use(tracker.Middleware)
	r.Get("/q", func(w http.ResponseWriter, r *http.Request) {
		_, ok := performance.QueryStatsFrom(r.Context())
		assert.True(t, ok)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/q", nil))
	tracker.Wait()
	assert.Len(t, recorder.all(), 1)
}

func TestDashboardAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	auth := NewDashboardAuthMiddleware(string(hash))
	auth.AddWhitelistPath("/performance/records")
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(path, header string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call("/performance/statistics", ""))
	assert.Equal(t, http.StatusUnauthorized, call("/performance/statistics", "Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, call("/performance/statistics", "Bearer wrong"))
	assert.Equal(t, http.StatusNoContent, call("/performance/statistics", "Bearer s3cret"))
	assert.Equal(t, http.StatusNoContent, call("/performance/records", ""))

	// 缓存命中后仍然有效，过期后重新校验
	assert.Equal(t, http.StatusNoContent, call("/performance/statistics", "Bearer s3cret"))
	auth.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, http.StatusNoContent, call("/performance/statistics", "Bearer s3cret"))
}

func TestDashboardAuthMiddleware_NoHashAllowsAll(t *testing.T) {
	handler := NewDashboardAuthMiddleware("").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/performance/statistics", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
