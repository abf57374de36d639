/*
 * @module service/notification/mqtt_channel
 * @description MQTT通知渠道，将告警以JSON发布到指定主题
 * @architecture 适配器模式 - 封装paho MQTT客户端
 * @stateFlow 首次发送时建立连接 -> 发布消息 -> 等待确认
 * @rules 连接在首次发送时惰性建立；发布超时或broker拒绝视为失败
 * @dependencies github.com/eclipse/paho.mqtt.golang, github.com/google/uuid
 * @refs service/notification/channel.go
 */

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig MQTT渠道配置
type MQTTConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Broker         string        `json:"broker" yaml:"broker"`
	ClientID       string        `json:"client_id" yaml:"client_id"`
	Username       string        `json:"username" yaml:"username"`
	Password       string        `json:"password" yaml:"password"`
	Topic          string        `json:"topic" yaml:"topic"`
	QoS            byte          `json:"qos" yaml:"qos"`
	Retained       bool          `json:"retained" yaml:"retained"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// MQTTChannel MQTT通知渠道
type MQTTChannel struct {
	config MQTTConfig
	mutex  sync.Mutex
	client mqtt.Client
}

// NewMQTTChannel 创建MQTT通知渠道
func NewMQTTChannel(config MQTTConfig) *MQTTChannel {
	if config.ClientID == "" {
		config.ClientID = "perfmon-" + uuid.NewString()
	}
	if config.Topic == "" {
		config.Topic = "perfmon/alerts"
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	return &MQTTChannel{config: config}
}

// GetName 获取渠道名称
func (m *MQTTChannel) GetName() string {
	return "mqtt"
}

// IsEnabled 检查是否启用
func (m *MQTTChannel) IsEnabled() bool {
	return m.config.Enabled && m.config.Broker != ""
}

// Send 发布告警消息
func (m *MQTTChannel) Send(ctx context.Context, alert PerformanceAlert, actx AlertContext) (bool, error) {
	if !m.IsEnabled() {
		return false, nil
	}

	payload, err := json.Marshal(mqttPayload(alert, actx))
	if err != nil {
		return false, fmt.Errorf("序列化告警数据失败: %w", err)
	}

	client, err := m.connect()
	if err != nil {
		return false, err
	}

	token := client.Publish(m.config.Topic, m.config.QoS, m.config.Retained, payload)
	wait := m.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return false, fmt.Errorf("MQTT发布超时 topic=%s", m.config.Topic)
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("MQTT发布失败: %w", err)
	}
	return true, nil
}

// Close 断开连接
func (m *MQTTChannel) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client = nil
}

func (m *MQTTChannel) connect() (mqtt.Client, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.client != nil && m.client.IsConnectionOpen() {
		return m.client, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.config.Broker)
	opts.SetClientID(m.config.ClientID)
	if m.config.Username != "" {
		opts.SetUsername(m.config.Username)
		opts.SetPassword(m.config.Password)
	}
	opts.SetConnectTimeout(m.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(m.config.ConnectTimeout) {
		return nil, fmt.Errorf("MQTT连接超时: %s", m.config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT连接失败: %w", err)
	}

	m.client = client
	return client, nil
}

func mqttPayload(alert PerformanceAlert, actx AlertContext) map[string]interface{} {
	return map[string]interface{}{
		"type":        alert.Type,
		"severity":    alert.Severity,
		"message":     alert.Message,
		"context":     alert.Context,
		"route":       actx.RouteName,
		"environment": actx.Environment,
		"record_id":   actx.RecordID,
		"recorded_at": actx.RecordedAt,
	}
}
