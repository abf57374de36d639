/*
 * @module service/notification/dispatcher
 * @description 告警分发器，将告警并发发送到所有启用的渠道并汇总结果
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 渠道校验 -> 并发发送（单渠道超时）-> 结果汇总
 * @rules 单个渠道报错、返回false、panic（含启用检查）或超时都只记为failed，不影响其他渠道；核心不做重试
 * @dependencies golang.org/x/sync/errgroup, log/slog
 * @refs service/notification/channel.go, service/performance/recording_service.go
 */

package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultChannelTimeout 单渠道默认超时时间
const DefaultChannelTimeout = 10 * time.Second

// ErrMalformedChannels 渠道列表不合法（存在nil或重名渠道）
var ErrMalformedChannels = errors.New("通知渠道列表不合法")

// ChannelStatus 渠道发送结果
type ChannelStatus string

const (
	StatusSent    ChannelStatus = "sent"
	StatusFailed  ChannelStatus = "failed"
	StatusSkipped ChannelStatus = "skipped"
)

// ChannelResult 单个渠道的发送结果
type ChannelResult struct {
	Status ChannelStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// DispatchReport 分发报告：渠道名 -> 结果
type DispatchReport struct {
	Results map[string]ChannelResult `json:"results"`
}

// Status 查询渠道结果，未参与分发时第二个返回值为false
func (r DispatchReport) Status(channel string) (ChannelStatus, bool) {
	res, ok := r.Results[channel]
	return res.Status, ok
}

// Count 统计指定状态的渠道数
func (r DispatchReport) Count(status ChannelStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// ChannelDeliveryError 渠道投递失败
type ChannelDeliveryError struct {
	Channel string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("渠道 %s 发送失败: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

// Dispatcher 告警分发器
type Dispatcher struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher 创建分发器，timeout<=0 时使用默认超时
func NewDispatcher(timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultChannelTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{timeout: timeout, logger: logger}
}

// Dispatch 将告警发送到所有启用的渠道
func (d *Dispatcher) Dispatch(ctx context.Context, alert PerformanceAlert, actx AlertContext, channels []NotificationChannel) (DispatchReport, error) {
	names, err := validateChannels(channels)
	if err != nil {
		return DispatchReport{}, err
	}

	results := make([]ChannelResult, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		enabled, err := channelEnabled(ch)
		if err != nil {
			deliveryErr := &ChannelDeliveryError{Channel: names[i], Err: err}
			d.logger.Warn("告警通知渠道状态检查失败", "channel", names[i], "error", deliveryErr)
			results[i] = ChannelResult{Status: StatusFailed, Error: deliveryErr.Error()}
			continue
		}
		if !enabled {
			results[i] = ChannelResult{Status: StatusSkipped}
			continue
		}
		i, ch := i, ch
		g.Go(func() error {
			results[i] = d.send(ctx, ch, names[i], alert, actx)
			return nil
		})
	}
	_ = g.Wait()

	report := DispatchReport{Results: make(map[string]ChannelResult, len(channels))}
	for i, name := range names {
		report.Results[name] = results[i]
		notificationsTotal.WithLabelValues(name, string(results[i].Status)).Inc()
	}
	return report, nil
}

// send 在超时控制下调用单个渠道
func (d *Dispatcher) send(ctx context.Context, ch NotificationChannel, name string, alert PerformanceAlert, actx AlertContext) ChannelResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		accepted bool
		err      error
	}
	done := make(chan outcome, 1)

	// 渠道实现可能忽略ctx，发送放在独立协程中，超时后不再等待
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		accepted, err := ch.Send(ctx, alert, actx)
		done <- outcome{accepted: accepted, err: err}
	}()

	var deliveryErr error
	select {
	case o := <-done:
		switch {
		case o.err != nil:
			deliveryErr = &ChannelDeliveryError{Channel: name, Err: o.err}
		case !o.accepted:
			deliveryErr = &ChannelDeliveryError{Channel: name, Err: errors.New("渠道拒绝发送")}
		}
	case <-ctx.Done():
		deliveryErr = &ChannelDeliveryError{Channel: name, Err: ctx.Err()}
	}

	if deliveryErr != nil {
		d.logger.Warn("告警通知发送失败",
			"channel", name,
			"alert_type", alert.Type,
			"severity", alert.Severity,
			"error", deliveryErr)
		return ChannelResult{Status: StatusFailed, Error: deliveryErr.Error()}
	}

	d.logger.Debug("告警通知发送成功", "channel", name, "alert_type", alert.Type)
	return ChannelResult{Status: StatusSent}
}

// channelEnabled 调用渠道的启用检查，panic 转为错误
func channelEnabled(ch NotificationChannel) (enabled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ch.IsEnabled(), nil
}

// channelName 读取渠道名，panic 转为错误
func channelName(ch NotificationChannel) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ch.GetName(), nil
}

// validateChannels 校验渠道列表并返回各渠道名，后续不再调用 GetName
func validateChannels(channels []NotificationChannel) ([]string, error) {
	names := make([]string, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for i, ch := range channels {
		if ch == nil {
			return nil, fmt.Errorf("%w: 第%d个渠道为空", ErrMalformedChannels, i)
		}
		name, err := channelName(ch)
		if err != nil {
			return nil, fmt.Errorf("%w: 第%d个渠道名称读取失败: %v", ErrMalformedChannels, i, err)
		}
		if name == "" {
			return nil, fmt.Errorf("%w: 第%d个渠道名称为空", ErrMalformedChannels, i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: 渠道名称重复 %s", ErrMalformedChannels, name)
		}
		seen[name] = struct{}{}
		names[i] = name
	}
	return names, nil
}
