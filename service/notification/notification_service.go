/*
 * @module service/notification/notification_service
 * @description 通知服务，持有已配置的通知渠道并对外提供告警发送入口
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 告警 -> 全局开关检查 -> 分发器 -> 渠道
 * @rules 通知关闭时不发送任何告警
 * @dependencies service/notification/dispatcher
 * @refs service/performance/recording_service.go
 */

package notification

import (
	"context"
)

// NotificationService 通知服务
type NotificationService struct {
	channels   []NotificationChannel
	enabled    bool
	dispatcher *Dispatcher
}

// NewNotificationService 创建通知服务实例
func NewNotificationService(dispatcher *Dispatcher, enabled bool, channels ...NotificationChannel) *NotificationService {
	if dispatcher == nil {
		dispatcher = NewDispatcher(DefaultChannelTimeout, nil)
	}
	return &NotificationService{
		channels:   channels,
		enabled:    enabled,
		dispatcher: dispatcher,
	}
}

// SendAlert 发送告警到所有启用的渠道
func (s *NotificationService) SendAlert(ctx context.Context, alert PerformanceAlert, actx AlertContext) (DispatchReport, error) {
	if !s.IsEnabled() {
		return DispatchReport{Results: map[string]ChannelResult{}}, nil
	}
	return s.dispatcher.Dispatch(ctx, alert, actx, s.channels)
}

// IsEnabled 通知是否启用
func (s *NotificationService) IsEnabled() bool {
	return s != nil && s.enabled
}

// EnabledChannels 获取启用的渠道名称
func (s *NotificationService) EnabledChannels() []string {
	if s == nil {
		return nil
	}
	enabled := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		if ch != nil && ch.IsEnabled() {
			enabled = append(enabled, ch.GetName())
		}
	}
	return enabled
}
