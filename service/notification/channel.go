/*
 * @module service/notification/channel
 * @description 通知渠道接口定义及渠道共用的格式化函数
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 通知配置 -> 通知发送 -> 状态跟踪
 * @rules 渠道之间互相独立，单个渠道失败不影响其他渠道
 * @dependencies context
 * @refs service/notification/dispatcher.go
 */

package notification

import (
	"context"
	"fmt"
	"strconv"
)

// NotificationChannel 通知渠道接口
type NotificationChannel interface {
	// IsEnabled 渠道是否启用
	IsEnabled() bool
	// GetName 渠道名称，在一次分发中必须唯一
	GetName() string
	// Send 发送告警，true 表示已被渠道接受（不代表已送达）
	Send(ctx context.Context, alert PerformanceAlert, actx AlertContext) (bool, error)
}

// formatSeconds 格式化秒数，缺失时返回 N/A
func formatSeconds(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64) + "s"
}

// formatCount 格式化计数，缺失时返回 N/A
func formatCount(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatInt(*v, 10)
}

// formatMegabytes 字节转MB，缺失时返回 N/A
func formatMegabytes(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f MB", float64(*v)/1024/1024)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
