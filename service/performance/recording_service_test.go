/*
 * @module service/performance/recording_service_test
 * @description 记录服务单元测试
 * @architecture 测试层 - sqlite内存库 + Mock告警发送
 * @stateFlow 记录样本 -> 校验结果、存储内容与告警调用
 * @rules 去重、告警隔离、并发重复请求只保存一条
 * @dependencies testing, testify, perfmon-service/testutil
 * @refs recording_service.go
 */

package performance

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"perfmon-service/service/models"
	"perfmon-service/service/notification"
	"perfmon-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// MockAlertSender 模拟告警发送
type MockAlertSender struct {
	mock.Mock
}

func (m *MockAlertSender) SendAlert(ctx context.Context, alert notification.PerformanceAlert, actx notification.AlertContext) (notification.DispatchReport, error) {
	args := m.Called(ctx, alert, actx)
	return args.Get(0).(notification.DispatchReport), args.Error(1)
}

// MockCacheInvalidator 模拟缓存失效
type MockCacheInvalidator struct {
	mock.Mock
}

func (m *MockCacheInvalidator) Invalidate(ctx context.Context, env string) {
	m.Called(ctx, env)
}

type RecordingServiceTestSuite struct {
	suite.Suite
	testDB   *testutil.TestDB
	store    *GormStore
	notifier *MockAlertSender
	cache    *MockCacheInvalidator
	service  *RecordingService
	ctx      context.Context
}

func (s *RecordingServiceTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	s.store = NewGormStore(s.testDB.DB)
	s.notifier = new(MockAlertSender)
	s.cache = new(MockCacheInvalidator)
	s.cache.On("Invalidate", mock.Anything, mock.Anything).Maybe()
	s.service = NewRecordingService(s.store, s.notifier, s.cache, RecordingOptions{
		Thresholds: ThresholdConfig{
			RequestTime: NewThreshold(1.0, 2.0),
			Outlier:     OutlierConfig{Multiplier: 3, MinSamples: 10},
		},
	}, nil)
	s.ctx = context.Background()
}

func (s *RecordingServiceTestSuite) TearDownTest() {
	s.testDB.Close()
}

func TestRecordingServiceTestSuite(t *testing.T) {
	suite.Run(t, new(RecordingServiceTestSuite))
}

func (s *RecordingServiceTestSuite) countRecords() int64 {
	var n int64
	s.testDB.DB.Model(&models.PerformanceRecord{}).Count(&n)
	return n
}

func (s *RecordingServiceTestSuite) TestRecordDistinctRequestIDs() {
	for _, id := range []string{"req-1", "req-2"} {
		outcome, err := s.service.Record(s.ctx, MetricSample{
			RouteName: "app_home", Environment: "prod", RequestID: id, RequestTimeSeconds: Float64(0.1),
		})
		s.Require().NoError(err)
		s.Equal(OutcomeRecorded, outcome.Status)
		s.NotEmpty(outcome.RecordID)
	}
	s.EqualValues(2, s.countRecords())
	s.cache.AssertCalled(s.T(), "Invalidate", mock.Anything, "prod")
}

func (s *RecordingServiceTestSuite) TestRecordSameRequestIDTwice() {
	sample := MetricSample{
		RouteName: "app_home", Environment: "prod", RequestID: "req-1", RequestTimeSeconds: Float64(2.5),
	}
	s.notifier.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).
		Return(notification.DispatchReport{}, nil).Once()

	first, err := s.service.Record(s.ctx, sample)
	s.Require().NoError(err)
	s.Equal(OutcomeRecorded, first.Status)

	second, err := s.service.Record(s.ctx, sample)
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, second.Status)
	s.Empty(second.RecordID)

	s.EqualValues(1, s.countRecords())
	// 重复请求不会再次触发告警
	s.notifier.AssertNumberOfCalls(s.T(), "SendAlert", 1)
}

func (s *RecordingServiceTestSuite) TestInvalidSample() {
	_, err := s.service.Record(s.ctx, MetricSample{RouteName: "  ", Environment: "prod"})
	var invalid *InvalidSampleError
	s.Require().ErrorAs(err, &invalid)
	s.Equal("route_name", invalid.Field)

	_, err = s.service.Record(s.ctx, MetricSample{RouteName: "app_home"})
	s.Require().ErrorAs(err, &invalid)
	s.Equal("environment", invalid.Field)

	_, err = s.service.Record(s.ctx, MetricSample{RouteName: "app_home", Environment: "prod", TotalQueries: Int64(-1)})
	s.Require().ErrorAs(err, &invalid)

	_, err = s.service.Record(s.ctx, MetricSample{RouteName: "app_home", Environment: "prod", RequestTimeSeconds: Float64(math.NaN())})
	s.Require().ErrorAs(err, &invalid)
	s.Equal("request_time_seconds", invalid.Field)

	s.Zero(s.countRecords())
}

func (s *RecordingServiceTestSuite) TestCriticalAlertDispatched() {
	s.notifier.On("SendAlert", mock.Anything,
		mock.MatchedBy(func(a notification.PerformanceAlert) bool {
			return a.Type == notification.TypeRequestTime && a.Severity == notification.SeverityCritical
		}),
		mock.MatchedBy(func(actx notification.AlertContext) bool {
			return actx.RouteName == "app_home" && actx.RecordID != ""
		}),
	).Return(notification.DispatchReport{}, nil).Once()

	outcome, err := s.service.Record(s.ctx, MetricSample{
		RouteName: "app_home", Environment: "prod", RequestTimeSeconds: Float64(2.5),
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRecorded, outcome.Status)
	s.notifier.AssertExpectations(s.T())
}

func (s *RecordingServiceTestSuite) TestNotificationFailureDoesNotFailRecord() {
	s.notifier.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).
		Return(notification.DispatchReport{}, notification.ErrMalformedChannels).Once()

	outcome, err := s.service.Record(s.ctx, MetricSample{
		RouteName: "app_home", Environment: "prod", RequestTimeSeconds: Float64(3),
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRecorded, outcome.Status)
	s.EqualValues(1, s.countRecords())
}

func (s *RecordingServiceTestSuite) TestNotifierPanicIsSwallowed() {
	s.notifier.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { panic("channel exploded") }).
		Return(notification.DispatchReport{}, nil).Once()

	outcome, err := s.service.Record(s.ctx, MetricSample{
		RouteName: "app_home", Environment: "prod", RequestTimeSeconds: Float64(3),
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRecorded, outcome.Status)
}

func (s *RecordingServiceTestSuite) TestOutlierUsesRouteHistory() {
	factory := testutil.NewTestDataFactory(s.testDB.DB)
	for i := 0; i < 12; i++ {
		factory.CreateRecord(testutil.WithRoute("app_list", "prod"), testutil.WithRequestTime(Float64(0.2)))
	}
	// 其他路由的慢请求不参与历史
	factory.CreateRecord(testutil.WithRoute("app_other", "prod"), testutil.WithRequestTime(Float64(50)))

	s.notifier.On("SendAlert", mock.Anything,
		mock.MatchedBy(func(a notification.PerformanceAlert) bool { return a.Type == notification.TypeOutlier }),
		mock.Anything,
	).Return(notification.DispatchReport{}, nil).Once()

	_, err := s.service.Record(s.ctx, MetricSample{
		RouteName: "app_list", Environment: "prod", RequestTimeSeconds: Float64(0.9),
	})
	s.Require().NoError(err)
	s.notifier.AssertExpectations(s.T())
}

func (s *RecordingServiceTestSuite) TestAsyncAlerts() {
	svc := NewRecordingService(s.store, s.notifier, nil, RecordingOptions{
		Thresholds:  ThresholdConfig{RequestTime: NewThreshold(1.0, 2.0)},
		AsyncAlerts: true,
	}, nil)
	s.notifier.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).
		Return(notification.DispatchReport{}, nil).Once()

	ctx, cancel := context.WithCancel(s.ctx)
	outcome, err := svc.Record(ctx, MetricSample{
		RouteName: "app_home", Environment: "prod", RequestTimeSeconds: Float64(1.5),
	})
	cancel()
	s.Require().NoError(err)
	s.Equal(OutcomeRecorded, outcome.Status)

	svc.Wait()
	s.notifier.AssertExpectations(s.T())
}

func (s *RecordingServiceTestSuite) TestNilNotifier() {
	svc := NewRecordingService(s.store, nil, nil, RecordingOptions{Thresholds: DefaultThresholds()}, nil)
	outcome, err := svc.Record(s.ctx, MetricSample{
		RouteName: "app_home", Environment: "prod", RequestTimeSeconds: Float64(9),
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRecorded, outcome.Status)
}

// raceStore 模拟两个进程同时通过去重检查：Exists 永远返回 false，唯一性只在 Append 时保证
type raceStore struct {
	GormStore
	mu      sync.Mutex
	seen    map[string]bool
	records []*models.PerformanceRecord
	gate    chan struct{}
}

func newRaceStore() *raceStore {
	return &raceStore{seen: map[string]bool{}, gate: make(chan struct{})}
}

func (r *raceStore) ExistsByRequestID(ctx context.Context, requestID string) (bool, error) {
	<-r.gate
	return false, nil
}

func (r *raceStore) Append(ctx context.Context, record *models.PerformanceRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.RequestID != nil {
		if r.seen[*record.RequestID] {
			return "", ErrDuplicateKey
		}
		r.seen[*record.RequestID] = true
	}
	record.ID = "rec-" + time.Now().Format("150405.000000000")
	record.CreatedAt = time.Now()
	r.records = append(r.records, record)
	return record.ID, nil
}

func (r *raceStore) Query(ctx context.Context, filter RecordFilter) ([]models.PerformanceRecord, error) {
	return nil, nil
}

func TestRecord_ConcurrentSameRequestID(t *testing.T) {
	store := newRaceStore()
	svc := NewRecordingService(store, nil, nil, RecordingOptions{}, nil)
	sample := MetricSample{RouteName: "app_home", Environment: "prod", RequestID: "req-race"}

	var wg sync.WaitGroup
	outcomes := make([]*RecordOutcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.Record(context.Background(), sample)
		}(i)
	}
	close(store.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	statuses := []OutcomeStatus{outcomes[0].Status, outcomes[1].Status}
	assert.ElementsMatch(t, []OutcomeStatus{OutcomeRecorded, OutcomeDuplicate}, statuses)
	assert.Len(t, store.records, 1)
}

// failingStore 模拟存储故障
type failingStore struct {
	GormStore
}

func (failingStore) ExistsByRequestID(ctx context.Context, requestID string) (bool, error) {
	return false, nil
}

func (failingStore) Append(ctx context.Context, record *models.PerformanceRecord) (string, error) {
	return "", errors.New("connection reset")
}

func TestRecord_StoreFailurePropagates(t *testing.T) {
	svc := NewRecordingService(&failingStore{}, nil, nil, RecordingOptions{}, nil)
	_, err := svc.Record(context.Background(), MetricSample{RouteName: "a", Environment: "prod", RequestID: "x"})
	assert.ErrorContains(t, err, "connection reset")
}
