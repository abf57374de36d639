/*
 * @module service/notification/dispatcher_test
 * @description 告警分发器单元测试
 * @architecture 测试层 - 通过Mock渠道隔离外部IO
 * @stateFlow 构造渠道 -> 分发 -> 校验报告
 * @rules 单渠道失败、超时、panic均不影响其他渠道
 * @dependencies testing, testify
 * @refs dispatcher.go
 */

package notification

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// MockChannel 模拟通知渠道
type MockChannel struct {
	mock.Mock
	name string
}

func newMockChannel(name string, enabled bool) *MockChannel {
	ch := &MockChannel{name: name}
	ch.On("IsEnabled").Return(enabled).Maybe()
	return ch
}

func (m *MockChannel) IsEnabled() bool {
	return m.Called().Bool(0)
}

func (m *MockChannel) GetName() string {
	return m.name
}

func (m *MockChannel) Send(ctx context.Context, alert PerformanceAlert, actx AlertContext) (bool, error) {
	args := m.Called(ctx, alert, actx)
	return args.Bool(0), args.Error(1)
}

// funcChannel 行为由函数决定的渠道
type funcChannel struct {
	name    string
	send    func(ctx context.Context) (bool, error)
	enabled func() bool
	getName func() string
}

func (f *funcChannel) IsEnabled() bool {
	if f.enabled != nil {
		return f.enabled()
	}
	return true
}

func (f *funcChannel) GetName() string {
	if f.getName != nil {
		return f.getName()
	}
	return f.name
}

func (f *funcChannel) Send(ctx context.Context, _ PerformanceAlert, _ AlertContext) (bool, error) {
	return f.send(ctx)
}

type DispatcherTestSuite struct {
	suite.Suite
	dispatcher *Dispatcher
	alert      PerformanceAlert
	actx       AlertContext
}

func (s *DispatcherTestSuite) SetupTest() {
	s.dispatcher = NewDispatcher(200*time.Millisecond, nil)
	s.alert = NewPerformanceAlert(TypeRequestTime, SeverityCritical, "slow", map[string]interface{}{"value": 2.5})
	s.actx = AlertContext{RouteName: "app_home", Environment: "prod"}
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

// 第二个渠道报错时第一个和第三个仍然被调用
func (s *DispatcherTestSuite) TestSecondChannelErrorDoesNotStopOthers() {
	first := newMockChannel("first", true)
	second := newMockChannel("second", true)
	third := newMockChannel("third", true)
	first.On("Send", mock.Anything, s.alert, s.actx).Return(true, nil).Once()
	second.On("Send", mock.Anything, s.alert, s.actx).Return(false, errors.New("smtp down")).Once()
	third.On("Send", mock.Anything, s.alert, s.actx).Return(true, nil).Once()

	report, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx,
		[]NotificationChannel{first, second, third})
	s.Require().NoError(err)

	s.Equal(StatusSent, report.Results["first"].Status)
	s.Equal(StatusFailed, report.Results["second"].Status)
	s.Contains(report.Results["second"].Error, "smtp down")
	s.Equal(StatusSent, report.Results["third"].Status)
	first.AssertExpectations(s.T())
	second.AssertExpectations(s.T())
	third.AssertExpectations(s.T())
}

func (s *DispatcherTestSuite) TestDisabledChannelSkipped() {
	enabled := newMockChannel("webhook", true)
	disabled := newMockChannel("email", false)
	enabled.On("Send", mock.Anything, s.alert, s.actx).Return(true, nil).Once()

	report, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx,
		[]NotificationChannel{enabled, disabled})
	s.Require().NoError(err)

	status, ok := report.Status("email")
	s.True(ok)
	s.Equal(StatusSkipped, status)
	s.Equal(1, report.Count(StatusSent))
	disabled.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything, mock.Anything)
}

func (s *DispatcherTestSuite) TestFalseReturnIsFailure() {
	ch := newMockChannel("webhook", true)
	ch.On("Send", mock.Anything, s.alert, s.actx).Return(false, nil).Once()

	report, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx, []NotificationChannel{ch})
	s.Require().NoError(err)
	s.Equal(StatusFailed, report.Results["webhook"].Status)
}

func (s *DispatcherTestSuite) TestTimeoutReportedAsFailed() {
	var fastCalled atomic.Bool
	slow := &funcChannel{name: "slow", send: func(ctx context.Context) (bool, error) {
		time.Sleep(2 * time.Second)
		return true, nil
	}}
	fast := &funcChannel{name: "fast", send: func(ctx context.Context) (bool, error) {
		fastCalled.Store(true)
		return true, nil
	}}

	start := time.Now()
	report, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx,
		[]NotificationChannel{slow, fast})
	s.Require().NoError(err)

	s.Less(time.Since(start), time.Second)
	s.Equal(StatusFailed, report.Results["slow"].Status)
	s.Contains(report.Results["slow"].Error, context.DeadlineExceeded.Error())
	s.Equal(StatusSent, report.Results["fast"].Status)
	s.True(fastCalled.Load())
}

func (s *DispatcherTestSuite) TestPanicIsolated() {
	boom := &funcChannel{name: "boom", send: func(ctx context.Context) (bool, error) {
		panic("nil map")
	}}
	ok := &funcChannel{name: "ok", send: func(ctx context.Context) (bool, error) {
		return true, nil
	}}

	report, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx,
		[]NotificationChannel{boom, ok})
	s.Require().NoError(err)
	s.Equal(StatusFailed, report.Results["boom"].Status)
	s.Contains(report.Results["boom"].Error, "panic")
	s.Equal(StatusSent, report.Results["ok"].Status)
}

func (s *DispatcherTestSuite) TestEnabledCheckPanicIsolated() {
	var firstSent, thirdSent atomic.Bool
	first := &funcChannel{name: "first", send: func(ctx context.Context) (bool, error) {
		firstSent.Store(true)
		return true, nil
	}}
	broken := &funcChannel{
		name:    "broken",
		enabled: func() bool { panic("config lookup failed") },
		send: func(ctx context.Context) (bool, error) {
			s.Fail("启用检查失败的渠道不应发送")
			return false, nil
		},
	}
	third := &funcChannel{name: "third", send: func(ctx context.Context) (bool, error) {
		thirdSent.Store(true)
		return true, nil
	}}

	report, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx,
		[]NotificationChannel{first, broken, third})
	s.Require().NoError(err)
	s.Equal(StatusFailed, report.Results["broken"].Status)
	s.Contains(report.Results["broken"].Error, "config lookup failed")
	s.Equal(StatusSent, report.Results["first"].Status)
	s.Equal(StatusSent, report.Results["third"].Status)
	s.True(firstSent.Load())
	s.True(thirdSent.Load())
}

func (s *DispatcherTestSuite) TestNamePanicIsMalformed() {
	var calls atomic.Int32
	ok := &funcChannel{name: "ok", send: func(ctx context.Context) (bool, error) {
		calls.Add(1)
		return true, nil
	}}
	broken := &funcChannel{getName: func() string { panic("no name") }}

	_, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx, []NotificationChannel{ok, broken})
	s.ErrorIs(err, ErrMalformedChannels)
	s.Zero(calls.Load())
}

func (s *DispatcherTestSuite) TestMalformedChannels() {
	ch := newMockChannel("webhook", true)

	_, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx, []NotificationChannel{ch, nil})
	s.ErrorIs(err, ErrMalformedChannels)

	dup := newMockChannel("webhook", true)
	_, err = s.dispatcher.Dispatch(context.Background(), s.alert, s.actx, []NotificationChannel{ch, dup})
	s.ErrorIs(err, ErrMalformedChannels)

	ch.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything, mock.Anything)
}

func (s *DispatcherTestSuite) TestEmptyChannelList() {
	report, err := s.dispatcher.Dispatch(context.Background(), s.alert, s.actx, nil)
	s.Require().NoError(err)
	s.Empty(report.Results)
}

func TestChannelDeliveryErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&ChannelDeliveryError{Channel: "webhook", Err: cause})

	assert.ErrorIs(t, err, cause)
	var delivery *ChannelDeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, "webhook", delivery.Channel)
}

func TestNotificationService(t *testing.T) {
	alert := NewPerformanceAlert(TypeQueryCount, SeverityWarning, "many queries", nil)
	actx := AlertContext{RouteName: "app_list", Environment: "dev"}

	t.Run("关闭时不发送", func(t *testing.T) {
		ch := newMockChannel("webhook", true)
		svc := NewNotificationService(nil, false, ch)

		report, err := svc.SendAlert(context.Background(), alert, actx)
		require.NoError(t, err)
		assert.Empty(t, report.Results)
		ch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("启用时分发到渠道", func(t *testing.T) {
		ch := newMockChannel("webhook", true)
		off := newMockChannel("email", false)
		ch.On("Send", mock.Anything, alert, actx).Return(true, nil).Once()
		svc := NewNotificationService(nil, true, ch, off)

		report, err := svc.SendAlert(context.Background(), alert, actx)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, report.Results["webhook"].Status)
		assert.Equal(t, []string{"webhook"}, svc.EnabledChannels())
	})

	t.Run("nil服务视为关闭", func(t *testing.T) {
		var svc *NotificationService
		assert.False(t, svc.IsEnabled())
	})
}

func TestAlertContextValue(t *testing.T) {
	ctx := map[string]interface{}{"value": 2.5}
	alert := NewPerformanceAlert(TypeRequestTime, SeverityCritical, "slow", ctx)
	ctx["value"] = 9.9

	assert.Equal(t, 2.5, alert.ContextValue("value", nil))
	assert.Equal(t, "n/a", alert.ContextValue("missing", "n/a"))
	assert.True(t, alert.IsCritical())
}
