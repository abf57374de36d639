/*
 * @module service/notification/webhook_channel
 * @description Webhook通知渠道，支持通用JSON、Slack、Teams三种负载格式
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 告警 -> 构建负载 -> HTTP POST
 * @rules 响应码>=400视为发送失败；未配置URL时视为未启用
 * @dependencies net/http, golang.org/x/text/cases
 * @refs service/notification/channel.go
 */

package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Webhook负载格式
const (
	WebhookFormatJSON  = "json"
	WebhookFormatSlack = "slack"
	WebhookFormatTeams = "teams"
)

// WebhookConfig Webhook渠道配置
type WebhookConfig struct {
	Enabled bool              `json:"enabled" yaml:"enabled"`
	URL     string            `json:"url" yaml:"url"`
	Format  string            `json:"format" yaml:"format"`
	Headers map[string]string `json:"headers" yaml:"headers"`
	Timeout time.Duration     `json:"timeout" yaml:"timeout"`
}

// WebhookChannel Webhook通知渠道
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
	now    func() time.Time
}

// NewWebhookChannel 创建Webhook通知渠道
func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	if config.Format == "" {
		config.Format = WebhookFormatJSON
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &WebhookChannel{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		now:    time.Now,
	}
}

// GetName 获取渠道名称
func (w *WebhookChannel) GetName() string {
	return "webhook"
}

// IsEnabled 检查是否启用
func (w *WebhookChannel) IsEnabled() bool {
	return w.config.Enabled && w.config.URL != ""
}

// Send 发送Webhook通知
func (w *WebhookChannel) Send(ctx context.Context, alert PerformanceAlert, actx AlertContext) (bool, error) {
	if !w.IsEnabled() {
		return false, nil
	}

	payload, err := json.Marshal(w.buildPayload(alert, actx))
	if err != nil {
		return false, fmt.Errorf("序列化告警数据失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("发送Webhook通知失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("Webhook通知响应错误: %d", resp.StatusCode)
	}
	return true, nil
}

func (w *WebhookChannel) buildPayload(alert PerformanceAlert, actx AlertContext) map[string]interface{} {
	switch w.config.Format {
	case WebhookFormatSlack:
		return w.buildSlackPayload(alert, actx)
	case WebhookFormatTeams:
		return w.buildTeamsPayload(alert, actx)
	default:
		return w.buildJSONPayload(alert, actx)
	}
}

// 通用JSON格式
func (w *WebhookChannel) buildJSONPayload(alert PerformanceAlert, actx AlertContext) map[string]interface{} {
	return map[string]interface{}{
		"alert": map[string]interface{}{
			"type":     alert.Type,
			"severity": alert.Severity,
			"message":  alert.Message,
			"context":  alert.Context,
		},
		"route":     actx,
		"timestamp": w.now().Format(time.RFC3339),
	}
}

// Slack格式
func (w *WebhookChannel) buildSlackPayload(alert PerformanceAlert, actx AlertContext) map[string]interface{} {
	color, emoji := "warning", "⚠️"
	if alert.IsCritical() {
		color, emoji = "danger", "🚨"
	}
	label := severityLabel(alert.Severity)

	field := func(title, value string) map[string]interface{} {
		return map[string]interface{}{"title": title, "value": value, "short": true}
	}

	return map[string]interface{}{
		"text": fmt.Sprintf("%s Performance Alert: %s", emoji, alert.Message),
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"title": fmt.Sprintf("%s Alert - %s", label, actx.RouteName),
				"fields": []map[string]interface{}{
					field("Route", orNA(actx.RouteName)),
					field("Environment", orNA(actx.Environment)),
					field("Request Time", formatSeconds(actx.RequestTimeSeconds)),
					field("Query Count", formatCount(actx.TotalQueries)),
					field("Alert Type", string(alert.Type)),
					field("Severity", label),
				},
				"footer": "perfmon-service",
				"ts":     w.now().Unix(),
			},
		},
	}
}

// Microsoft Teams格式
func (w *WebhookChannel) buildTeamsPayload(alert PerformanceAlert, actx AlertContext) map[string]interface{} {
	color := "FFA500"
	if alert.IsCritical() {
		color = "FF0000"
	}
	label := severityLabel(alert.Severity)

	fact := func(name, value string) map[string]interface{} {
		return map[string]interface{}{"name": name, "value": value}
	}

	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    fmt.Sprintf("Performance Alert: %s", alert.Message),
		"themeColor": color,
		"title":      fmt.Sprintf("%s Performance Alert", label),
		"sections": []map[string]interface{}{
			{
				"activityTitle": alert.Message,
				"facts": []map[string]interface{}{
					fact("Route", orNA(actx.RouteName)),
					fact("Environment", orNA(actx.Environment)),
					fact("Request Time", formatSeconds(actx.RequestTimeSeconds)),
					fact("Query Count", formatCount(actx.TotalQueries)),
					fact("Alert Type", string(alert.Type)),
					fact("Severity", label),
				},
			},
		},
	}
}

// severityLabel 首字母大写的严重级别；Caser 有状态，每次新建
func severityLabel(s Severity) string {
	return cases.Title(language.English).String(string(s))
}
