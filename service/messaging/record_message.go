/*
 * @module service/messaging/record_message
 * @description "记录性能指标"队列消息定义及消费处理
 * @architecture 分层架构 - 消息层
 * @stateFlow 样本 -> 消息编码 -> 队列 -> 消息解码 -> RecordingService.Record
 * @rules 重复投递由 request_id 去重吸收；样本无效的消息不重试；存储故障需要重试
 * @dependencies service/performance
 * @refs service/messaging/kafka_transport.go, service/messaging/dapr_transport.go
 */

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"perfmon-service/service/performance"
)

// MessageVersion 当前消息格式版本
const MessageVersion = 1

// RecordMetricsMessage 记录性能指标消息，字段与样本一致
type RecordMetricsMessage struct {
	performance.MetricSample
	Version     int       `json:"version"`
	PublishedAt time.Time `json:"published_at"`
}

// NewRecordMetricsMessage 由样本构建消息
func NewRecordMetricsMessage(sample performance.MetricSample) RecordMetricsMessage {
	return RecordMetricsMessage{
		MetricSample: sample,
		Version:      MessageVersion,
		PublishedAt:  time.Now().UTC(),
	}
}

// Encode 序列化消息
func (m RecordMetricsMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeRecordMetricsMessage 反序列化消息
func DecodeRecordMetricsMessage(data []byte) (RecordMetricsMessage, error) {
	var msg RecordMetricsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("解析记录消息失败: %w", err)
	}
	return msg, nil
}

// messageKey 分区键，同一请求的重复投递落在同一分区
func messageKey(sample performance.MetricSample) string {
	if sample.RequestID != "" {
		return sample.RequestID
	}
	return sample.Environment + ":" + sample.RouteName
}

// RecordHandler 消费端处理器，把消息交给同步记录服务
type RecordHandler struct {
	recorder performance.Recorder
	logger   *slog.Logger
}

// NewRecordHandler 创建消费处理器
func NewRecordHandler(recorder performance.Recorder, logger *slog.Logger) *RecordHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordHandler{recorder: recorder, logger: logger}
}

// Handle 处理一条消息，retry 表示消息应重新投递
func (h *RecordHandler) Handle(ctx context.Context, data []byte) (retry bool, err error) {
	msg, err := DecodeRecordMetricsMessage(data)
	if err != nil {
		h.logger.Error("丢弃无法解析的记录消息", "error", err)
		return false, err
	}

	outcome, err := h.recorder.Record(ctx, msg.MetricSample)
	if err != nil {
		var invalid *performance.InvalidSampleError
		if errors.As(err, &invalid) {
			h.logger.Warn("丢弃无效的记录消息", "route", msg.RouteName, "error", err)
			return false, err
		}
		h.logger.Error("记录消息处理失败，等待重试", "route", msg.RouteName, "error", err)
		return true, err
	}

	h.logger.Debug("记录消息处理完成",
		"route", msg.RouteName,
		"request_id", msg.RequestID,
		"status", outcome.Status)
	return false, nil
}
