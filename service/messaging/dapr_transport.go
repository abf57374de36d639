/*
 * @module service/messaging/dapr_transport
 * @description 基于Dapr pub/sub的异步记录通道：发布端通过sidecar发布，订阅端在HTTP服务上接收
 * @architecture 适配器模式 - 封装 dapr go-sdk 客户端与订阅处理器
 * @stateFlow 样本 -> PublishEvent -> sidecar -> 订阅路由 -> 记录服务
 * @rules 处理器返回 retry=true 时由 sidecar 重新投递
 * @dependencies github.com/dapr/go-sdk
 * @refs service/messaging/record_message.go, main.go
 */

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"perfmon-service/service/performance"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/dapr/go-sdk/service/common"
)

// DaprConfig Dapr通道配置
type DaprConfig struct {
	PubsubName string `json:"pubsub_name" yaml:"pubsub_name"`
	Topic      string `json:"topic" yaml:"topic"`
	Route      string `json:"route" yaml:"route"`
}

type eventPublisher interface {
	PublishEvent(ctx context.Context, pubsubName, topicName string, data interface{}, opts ...dapr.PublishEventOption) error
}

// DaprRecordPublisher 通过Dapr发布样本，Record 返回 queued
type DaprRecordPublisher struct {
	client eventPublisher
	config DaprConfig
}

// NewDaprRecordPublisher 连接本地sidecar并创建发布者
func NewDaprRecordPublisher(cfg DaprConfig) (*DaprRecordPublisher, error) {
	client, err := dapr.NewClient()
	if err != nil {
		return nil, fmt.Errorf("创建Dapr客户端失败: %w", err)
	}
	return &DaprRecordPublisher{client: client, config: cfg}, nil
}

// Record 校验并发布样本
func (p *DaprRecordPublisher) Record(ctx context.Context, sample performance.MetricSample) (*performance.RecordOutcome, error) {
	if err := sample.Validate(); err != nil {
		return nil, err
	}

	payload, err := NewRecordMetricsMessage(sample).Encode()
	if err != nil {
		return nil, fmt.Errorf("序列化记录消息失败: %w", err)
	}

	err = p.client.PublishEvent(ctx, p.config.PubsubName, p.config.Topic, payload,
		dapr.PublishEventWithContentType("application/json"))
	if err != nil {
		return nil, fmt.Errorf("发布记录消息到Dapr失败 topic=%s: %w", p.config.Topic, err)
	}

	return &performance.RecordOutcome{Status: performance.OutcomeQueued, RequestID: sample.RequestID}, nil
}

// Close 关闭客户端
func (p *DaprRecordPublisher) Close() {
	if c, ok := p.client.(dapr.Client); ok {
		c.Close()
	}
}

// DaprRecordHandler Dapr订阅处理器
type DaprRecordHandler struct {
	handler *RecordHandler
	config  DaprConfig
}

// NewDaprRecordHandler 创建订阅处理器
func NewDaprRecordHandler(cfg DaprConfig, handler *RecordHandler) *DaprRecordHandler {
	if cfg.Route == "" {
		cfg.Route = "/events/performance-records"
	}
	return &DaprRecordHandler{handler: handler, config: cfg}
}

// Subscription 订阅声明
func (h *DaprRecordHandler) Subscription() *common.Subscription {
	return &common.Subscription{
		PubsubName: h.config.PubsubName,
		Topic:      h.config.Topic,
		Route:      h.config.Route,
	}
}

// HandleEvent 处理主题事件
func (h *DaprRecordHandler) HandleEvent(ctx context.Context, e *common.TopicEvent) (retry bool, err error) {
	data, err := eventPayload(e)
	if err != nil {
		return false, err
	}
	return h.handler.Handle(ctx, data)
}

// eventPayload 取事件原始数据；sidecar 已解析为对象时重新编码
func eventPayload(e *common.TopicEvent) ([]byte, error) {
	if e == nil {
		return nil, errors.New("事件为空")
	}
	if len(e.RawData) > 0 {
		// 发布端以字节发布时 sidecar 会把JSON字符串再包一层
		var inner string
		if err := json.Unmarshal(e.RawData, &inner); err == nil {
			return []byte(inner), nil
		}
		return e.RawData, nil
	}
	switch v := e.Data.(type) {
	case nil:
		return nil, errors.New("事件数据为空")
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("编码事件数据失败: %w", err)
		}
		return raw, nil
	}
}
