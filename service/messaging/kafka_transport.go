/*
 * @module service/messaging/kafka_transport
 * @description 基于Kafka的异步记录通道：发布端把样本写入主题，消费端读取后调用记录服务
 * @architecture 适配器模式 - 封装 segmentio/kafka-go
 * @stateFlow 样本 -> Writer.WriteMessages -> 主题 -> Reader.FetchMessage -> 记录服务 -> CommitMessages
 * @rules 发布前先校验样本；处理成功或不可重试时提交位点；可重试错误按退避重试，超过次数后提交并丢弃
 * @dependencies github.com/segmentio/kafka-go
 * @refs service/messaging/record_message.go
 */

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"perfmon-service/service/performance"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka通道配置
type KafkaConfig struct {
	Brokers    []string      `json:"brokers" yaml:"brokers"`
	Topic      string        `json:"topic" yaml:"topic"`
	GroupID    string        `json:"group_id" yaml:"group_id"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecordPublisher 将样本发布到Kafka，Record 返回 queued
type KafkaRecordPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaRecordPublisher 创建Kafka发布者
func NewKafkaRecordPublisher(cfg KafkaConfig) *KafkaRecordPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaRecordPublisher{writer: writer, topic: cfg.Topic}
}

// Record 校验并发布样本
func (p *KafkaRecordPublisher) Record(ctx context.Context, sample performance.MetricSample) (*performance.RecordOutcome, error) {
	if err := sample.Validate(); err != nil {
		return nil, err
	}

	payload, err := NewRecordMetricsMessage(sample).Encode()
	if err != nil {
		return nil, fmt.Errorf("序列化记录消息失败: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(messageKey(sample)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("发布记录消息到Kafka失败 topic=%s: %w", p.topic, err)
	}

	return &performance.RecordOutcome{Status: performance.OutcomeQueued, RequestID: sample.RequestID}, nil
}

// Close 关闭生产者
func (p *KafkaRecordPublisher) Close() error {
	return p.writer.Close()
}

// KafkaRecordConsumer 消费记录消息
type KafkaRecordConsumer struct {
	reader     messageReader
	handler    *RecordHandler
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewKafkaRecordConsumer 创建Kafka消费者
func NewKafkaRecordConsumer(cfg KafkaConfig, handler *RecordHandler, logger *slog.Logger) *KafkaRecordConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newKafkaRecordConsumer(reader, handler, cfg.MaxRetries, cfg.RetryDelay, logger)
}

func newKafkaRecordConsumer(reader messageReader, handler *RecordHandler, maxRetries int, retryDelay time.Duration, logger *slog.Logger) *KafkaRecordConsumer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaRecordConsumer{
		reader:     reader,
		handler:    handler,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Run 持续消费直到 ctx 取消
func (c *KafkaRecordConsumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka记录消费者启动")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Kafka记录消费者停止")
				return nil
			}
			return fmt.Errorf("拉取Kafka消息失败: %w", err)
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("提交Kafka位点失败", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// process 处理单条消息，可重试错误按固定间隔重试
func (c *KafkaRecordConsumer) process(ctx context.Context, msg kafka.Message) {
	for attempt := 1; ; attempt++ {
		retry, err := c.handler.Handle(ctx, msg.Value)
		if err == nil || !retry {
			return
		}
		if attempt >= c.maxRetries {
			c.logger.Error("记录消息重试次数耗尽，丢弃",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempts", attempt,
				"error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

// Close 关闭消费者
func (c *KafkaRecordConsumer) Close() error {
	return c.reader.Close()
}
