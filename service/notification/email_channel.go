/*
 * @module service/notification/email_channel
 * @description 邮件通知渠道，通过SMTP发送HTML格式的性能告警
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 告警 -> 构建主题和正文 -> SMTP发送
 * @rules 未配置服务器或收件人时视为未启用
 * @dependencies net/smtp, html/template
 * @refs service/notification/channel.go
 */

package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailConfig 邮件渠道配置
type EmailConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	SMTPServer  string   `json:"smtp_server" yaml:"smtp_server"`
	SMTPPort    int      `json:"smtp_port" yaml:"smtp_port"`
	Username    string   `json:"username" yaml:"username"`
	Password    string   `json:"password" yaml:"password"`
	FromAddress string   `json:"from_address" yaml:"from_address"`
	ToAddresses []string `json:"to_addresses" yaml:"to_addresses"`
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel 邮件通知渠道
type EmailChannel struct {
	config   EmailConfig
	sendMail sendMailFunc
}

// NewEmailChannel 创建邮件通知渠道
func NewEmailChannel(config EmailConfig) *EmailChannel {
	if config.SMTPPort == 0 {
		config.SMTPPort = 25
	}
	return &EmailChannel{config: config, sendMail: smtp.SendMail}
}

// GetName 获取渠道名称
func (e *EmailChannel) GetName() string {
	return "email"
}

// IsEnabled 检查是否启用
func (e *EmailChannel) IsEnabled() bool {
	return e.config.Enabled && e.config.SMTPServer != "" && len(e.config.ToAddresses) > 0
}

// Send 发送邮件通知
func (e *EmailChannel) Send(ctx context.Context, alert PerformanceAlert, actx AlertContext) (bool, error) {
	if !e.IsEnabled() {
		return false, nil
	}

	body, err := e.buildEmailBody(alert, actx)
	if err != nil {
		return false, fmt.Errorf("构建邮件正文失败: %w", err)
	}

	msg := e.buildMessage(e.buildSubject(alert, actx), body)
	addr := net.JoinHostPort(e.config.SMTPServer, strconv.Itoa(e.config.SMTPPort))

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPServer)
	}

	if err := e.sendMail(addr, auth, e.config.FromAddress, e.config.ToAddresses, msg); err != nil {
		return false, fmt.Errorf("SMTP发送失败: %w", err)
	}
	return true, nil
}

func (e *EmailChannel) buildSubject(alert PerformanceAlert, actx AlertContext) string {
	route := actx.RouteName
	if route == "" {
		route = "Unknown Route"
	}
	return fmt.Sprintf("[Performance Alert] %s: %s - %s",
		strings.ToUpper(string(alert.Severity)), route, alert.Type)
}

func (e *EmailChannel) buildMessage(subject, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString("From: " + e.config.FromAddress + "\r\n")
	buf.WriteString("To: " + strings.Join(e.config.ToAddresses, ", ") + "\r\n")
	buf.WriteString("Subject: " + subject + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}

var emailBodyTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
    <div style="border-left: 4px solid {{.Color}}; padding: 15px; background-color: #f8f9fa;">
        <h2 style="color: {{.Color}}; margin-top: 0;">{{.SeverityLabel}} Performance Alert</h2>
        <p><strong>Message:</strong> {{.Message}}</p>
    </div>
    <h3>Route Information</h3>
    <table border="1" cellpadding="6" style="border-collapse: collapse;">
        <tr><th>Property</th><th>Value</th></tr>
        <tr><td>Route Name</td><td><code>{{.Route}}</code></td></tr>
        <tr><td>Environment</td><td>{{.Env}}</td></tr>
        <tr><td>HTTP Method</td><td>{{.Method}}</td></tr>
        <tr><td>Request Time</td><td>{{.RequestTime}}</td></tr>
        <tr><td>Query Count</td><td>{{.QueryCount}}</td></tr>
        <tr><td>Query Time</td><td>{{.QueryTime}}</td></tr>
        <tr><td>Memory Usage</td><td>{{.Memory}}</td></tr>
        <tr><td>Recorded At</td><td>{{.RecordedAt}}</td></tr>
    </table>
    <h3>Alert Details</h3>
    <table border="1" cellpadding="6" style="border-collapse: collapse;">
        <tr><th>Property</th><th>Value</th></tr>
        <tr><td>Type</td><td>{{.Type}}</td></tr>
        <tr><td>Severity</td><td>{{.SeverityLabel}}</td></tr>
    </table>
</body>
</html>
`))

// 构建邮件正文
func (e *EmailChannel) buildEmailBody(alert PerformanceAlert, actx AlertContext) (string, error) {
	color := "#ffc107"
	if alert.IsCritical() {
		color = "#dc3545"
	}
	recordedAt := "N/A"
	if !actx.RecordedAt.IsZero() {
		recordedAt = actx.RecordedAt.Format("2006-01-02 15:04:05")
	}

	data := map[string]string{
		"Color":         color,
		"SeverityLabel": severityLabel(alert.Severity),
		"Message":       alert.Message,
		"Route":         actx.RouteName,
		"Env":           actx.Environment,
		"Method":        orNA(actx.HTTPMethod),
		"RequestTime":   formatSeconds(actx.RequestTimeSeconds),
		"QueryCount":    formatCount(actx.TotalQueries),
		"QueryTime":     formatSeconds(actx.QueryTimeSeconds),
		"Memory":        formatMegabytes(actx.MemoryUsageBytes),
		"RecordedAt":    recordedAt,
		"Type":          string(alert.Type),
	}

	var buf bytes.Buffer
	if err := emailBodyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
