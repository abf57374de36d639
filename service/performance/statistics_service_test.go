package performance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"perfmon-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryCache 带版本号的内存统计缓存
type memoryCache struct {
	mu       sync.Mutex
	data     map[string]cachedStats
	versions map[string]int64
	gets     int
	failGet  bool
}

type cachedStats struct {
	version int64
	stats   []RouteAggregates
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]cachedStats{}, versions: map[string]int64{}}
}

func (c *memoryCache) Get(ctx context.Context, env string) ([]RouteAggregates, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return nil, 0, false, errors.New("redis down")
	}
	version := c.versions[env]
	entry, ok := c.data[env]
	if !ok || entry.version != version {
		return nil, version, false, nil
	}
	return entry.stats, version, true, nil
}

func (c *memoryCache) Set(ctx context.Context, env string, version int64, stats []RouteAggregates) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[env] = cachedStats{version: version, stats: stats}
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, env string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[env]++
	return nil
}

func (c *memoryCache) has(env string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[env]
	return ok && entry.version == c.versions[env]
}

// hookedStore 在聚合查询返回前执行回调，模拟并发写入
type hookedStore struct {
	*GormStore
	beforeReturn func()
}

func (h *hookedStore) SummarizeRoutes(ctx context.Context, env string) ([]RouteAggregates, error) {
	stats, err := h.GormStore.SummarizeRoutes(ctx, env)
	if h.beforeReturn != nil {
		h.beforeReturn()
	}
	return stats, err
}

func TestStatisticsService_RouteStatistics(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	factory := testutil.NewTestDataFactory(testDB.DB)
	store := NewGormStore(testDB.DB)
	cache := newMemoryCache()
	svc := NewStatisticsService(store, cache, nil)
	ctx := context.Background()

	factory.CreateRecord(testutil.WithRoute("fast", "prod"), testutil.WithRequestTime(Float64(0.1)))
	factory.CreateRecord(testutil.WithRoute("slow", "prod"), testutil.WithRequestTime(Float64(2)))
	factory.CreateRecord(testutil.WithRoute("slow", "prod"), testutil.WithRequestTime(Float64(4)))
	factory.CreateRecord(testutil.WithRoute("unmeasured", "prod"), testutil.WithRequestTime(nil))
	factory.CreateRecord(testutil.WithRoute("slow", "dev"), testutil.WithRequestTime(Float64(9)))

	stats, err := svc.RouteStatistics(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, "slow", stats[0].RouteName)
	assert.Equal(t, 3.0, *stats[0].RequestTime.Mean)
	assert.Equal(t, "fast", stats[1].RouteName)
	assert.Equal(t, "unmeasured", stats[2].RouteName)
	assert.Nil(t, stats[2].RequestTime.Mean)
	assert.True(t, cache.has("prod"))

	// 缓存命中时不读库
	factory.CreateRecord(testutil.WithRoute("new", "prod"))
	cached, err := svc.RouteStatistics(ctx, "prod")
	require.NoError(t, err)
	assert.Len(t, cached, 3)

	svc.Invalidate(ctx, "prod")
	fresh, err := svc.RouteStatistics(ctx, "prod")
	require.NoError(t, err)
	assert.Len(t, fresh, 4)
}

func TestStatisticsService_CacheErrorFallsBack(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	testutil.NewTestDataFactory(testDB.DB).CreateRecord(testutil.WithRoute("a", "prod"))

	cache := newMemoryCache()
	cache.failGet = true
	svc := NewStatisticsService(NewGormStore(testDB.DB), cache, nil)

	stats, err := svc.RouteStatistics(context.Background(), "prod")
	require.NoError(t, err)
	assert.Len(t, stats, 1)
}

func TestStatisticsService_RecordsAndEnvironments(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	factory := testutil.NewTestDataFactory(testDB.DB)
	factory.CreateRecord(testutil.WithRoute("a", "prod"), testutil.WithMemory(2*1024*1024))
	factory.CreateRecord(testutil.WithRoute("a", "staging"))

	svc := NewStatisticsService(NewGormStore(testDB.DB), nil, nil)
	ctx := context.Background()

	views, err := svc.Records(ctx, RecordFilter{Environment: "prod"})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].MemoryUsageMB)
	assert.Equal(t, 2.0, *views[0].MemoryUsageMB)

	envs, err := svc.Environments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"prod", "staging"}, envs)

	// 无缓存时失效操作为空操作
	svc.Invalidate(ctx, "prod")
	var nilSvc *StatisticsService
	nilSvc.Invalidate(ctx, "prod")
}

func TestStatisticsService_ConcurrentRecordDuringComputeNotCachedStale(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	factory := testutil.NewTestDataFactory(testDB.DB)
	factory.CreateRecord(testutil.WithRoute("a", "prod"))

	cache := newMemoryCache()
	store := &hookedStore{GormStore: NewGormStore(testDB.DB)}
	svc := NewStatisticsService(store, cache, nil)
	ctx := context.Background()

	// 聚合完成后、写回缓存前有新记录写入并失效缓存
	store.beforeReturn = func() {
		factory.CreateRecord(testutil.WithRoute("b", "prod"))
		svc.Invalidate(ctx, "prod")
	}
	stale, err := svc.RouteStatistics(ctx, "prod")
	require.NoError(t, err)
	assert.Len(t, stale, 1)
	assert.False(t, cache.has("prod"))

	store.beforeReturn = nil
	fresh, err := svc.RouteStatistics(ctx, "prod")
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestStatisticsService_AccessDistribution(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	factory := testutil.NewTestDataFactory(testDB.DB)

	// 2024-01-07 是周日
	sunday := time.Date(2024, 1, 7, 9, 30, 0, 0, time.Local)
	factory.CreateRecord(testutil.WithRoute("a", "prod"), testutil.WithRequestTime(Float64(1)),
		testutil.WithStatusCode(200), testutil.WithCreatedAt(sunday))
	factory.CreateRecord(testutil.WithRoute("a", "prod"), testutil.WithRequestTime(Float64(3)),
		testutil.WithStatusCode(500), testutil.WithCreatedAt(sunday.Add(10*time.Minute)))
	factory.CreateRecord(testutil.WithRoute("b", "prod"), testutil.WithRequestTime(nil),
		testutil.WithCreatedAt(sunday.Add(24*time.Hour+5*time.Hour)))
	factory.CreateRecord(testutil.WithRoute("a", "dev"), testutil.WithCreatedAt(sunday))

	svc := NewStatisticsService(NewGormStore(testDB.DB), nil, nil)
	ctx := context.Background()

	hours, err := svc.AccessDistribution(ctx, RecordFilter{Environment: "prod"}, ByHour)
	require.NoError(t, err)
	require.Len(t, hours, 24)
	assert.Equal(t, 2, hours[9].Count)
	assert.Equal(t, "09:00", hours[9].Label)
	require.NotNil(t, hours[9].AvgRequestTime)
	assert.Equal(t, 2.0, *hours[9].AvgRequestTime)
	assert.Equal(t, map[int]int{200: 1, 500: 1}, hours[9].StatusCodes)
	assert.Equal(t, 1, hours[14].Count)
	assert.Nil(t, hours[14].AvgRequestTime)
	assert.Zero(t, hours[0].Count)
	assert.Nil(t, hours[0].AvgRequestTime)

	days, err := svc.AccessDistribution(ctx, RecordFilter{Environment: "prod", RouteName: "a"}, ByDayOfWeek)
	require.NoError(t, err)
	require.Len(t, days, 7)
	assert.Equal(t, "Sunday", days[0].Label)
	assert.Equal(t, 2, days[0].Count)
	assert.Zero(t, days[1].Count)

	_, err = svc.AccessDistribution(ctx, RecordFilter{}, ByHour)
	assert.Error(t, err)
}

func TestParseDistributionKind(t *testing.T) {
	kind, ok := ParseDistributionKind("")
	assert.True(t, ok)
	assert.Equal(t, ByHour, kind)

	kind, ok = ParseDistributionKind("day_of_week")
	assert.True(t, ok)
	assert.Equal(t, ByDayOfWeek, kind)

	_, ok = ParseDistributionKind("month")
	assert.False(t, ok)
}
