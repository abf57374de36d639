/*
 * @module service/performance/recording_service
 * @description 性能记录服务，校验样本、按 request_id 去重、追加存储，并触发阈值评估与告警分发
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 校验 -> 去重检查 -> 追加记录 -> 失效统计缓存 -> 加载历史 -> 评估 -> 分发告警
 * @rules 只有样本无效和存储故障会返回错误；唯一约束冲突视为 duplicate；
 *        评估和通知的任何失败（含panic）只记录日志，不影响记录结果；重复请求不会触发告警
 * @dependencies service/notification, log/slog
 * @refs service/performance/store.go, service/performance/evaluator.go, service/notification/notification_service.go
 */

package performance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"perfmon-service/service/models"
	"perfmon-service/service/notification"
)

// DefaultHistoryWindow 离群检测使用的历史记录条数
const DefaultHistoryWindow = 100

// OutcomeStatus 记录结果
type OutcomeStatus string

const (
	OutcomeRecorded  OutcomeStatus = "recorded"
	OutcomeDuplicate OutcomeStatus = "duplicate"
	OutcomeQueued    OutcomeStatus = "queued"
)

// RecordOutcome 一次记录调用的结果
type RecordOutcome struct {
	Status    OutcomeStatus `json:"status"`
	RecordID  string        `json:"record_id,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// Recorder 记录入口，可以是同步服务也可以是消息队列发布者
type Recorder interface {
	Record(ctx context.Context, sample MetricSample) (*RecordOutcome, error)
}

// AlertSender 告警发送
type AlertSender interface {
	SendAlert(ctx context.Context, alert notification.PerformanceAlert, actx notification.AlertContext) (notification.DispatchReport, error)
}

// CacheInvalidator 统计缓存失效
type CacheInvalidator interface {
	Invalidate(ctx context.Context, env string)
}

// EvaluationError 告警评估或分发阶段的错误，只记录不返回
type EvaluationError struct {
	RecordID string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("记录 %s 告警评估失败: %v", e.RecordID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// RecordingOptions 记录服务配置
type RecordingOptions struct {
	Thresholds    ThresholdConfig
	HistoryWindow int
	// AsyncAlerts 为 true 时评估和分发在后台协程执行，Record 不等待通知
	AsyncAlerts bool
}

// RecordingService 性能记录服务
type RecordingService struct {
	store    Store
	notifier AlertSender
	cache    CacheInvalidator
	options  RecordingOptions
	logger   *slog.Logger
	pending  sync.WaitGroup
}

// NewRecordingService 创建记录服务，notifier 和 cache 可为 nil
func NewRecordingService(store Store, notifier AlertSender, cache CacheInvalidator, options RecordingOptions, logger *slog.Logger) *RecordingService {
	if options.HistoryWindow <= 0 {
		options.HistoryWindow = DefaultHistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingService{
		store:    store,
		notifier: notifier,
		cache:    cache,
		options:  options,
		logger:   logger,
	}
}

// Record 记录一个样本
func (s *RecordingService) Record(ctx context.Context, sample MetricSample) (*RecordOutcome, error) {
	if err := sample.Validate(); err != nil {
		recordsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if sample.RequestID != "" {
		exists, err := s.store.ExistsByRequestID(ctx, sample.RequestID)
		if err != nil {
			recordsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if exists {
			return s.duplicate(sample), nil
		}
	}

	record := sample.ToRecord()
	id, err := s.store.Append(ctx, record)
	if errors.Is(err, ErrDuplicateKey) {
		return s.duplicate(sample), nil
	}
	if err != nil {
		recordsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	recordsTotal.WithLabelValues(string(OutcomeRecorded)).Inc()
	if sample.RequestTimeSeconds != nil {
		recordedRequestSeconds.WithLabelValues(record.Environment).Observe(*sample.RequestTimeSeconds)
	}
	s.logger.Debug("性能记录已保存",
		"record_id", id,
		"route", record.RouteName,
		"env", record.Environment)

	if s.cache != nil {
		s.cache.Invalidate(ctx, record.Environment)
	}

	if s.options.AsyncAlerts {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.evaluateAndNotify(context.WithoutCancel(ctx), sample, record)
		}()
	} else {
		s.evaluateAndNotify(ctx, sample, record)
	}

	return &RecordOutcome{Status: OutcomeRecorded, RecordID: id, RequestID: sample.RequestID}, nil
}

// Wait 等待后台告警处理完成
func (s *RecordingService) Wait() {
	s.pending.Wait()
}

func (s *RecordingService) duplicate(sample MetricSample) *RecordOutcome {
	recordsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
	s.logger.Debug("请求已记录，忽略重复样本", "request_id", sample.RequestID, "route", sample.RouteName)
	return &RecordOutcome{Status: OutcomeDuplicate, RequestID: sample.RequestID}
}

// evaluateAndNotify 评估并分发告警，所有错误在此吸收
func (s *RecordingService) evaluateAndNotify(ctx context.Context, sample MetricSample, record *models.PerformanceRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.logEvaluationError(record.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	history, err := s.loadHistory(ctx, record)
	if err != nil {
		s.logEvaluationError(record.ID, err)
	}

	alerts := Evaluate(sample, s.options.Thresholds, history)
	if len(alerts) == 0 {
		return
	}

	actx := sample.AlertContext(record.ID, record.CreatedAt)
	for _, alert := range alerts {
		alertsTotal.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
		s.logger.Info("性能告警",
			"record_id", record.ID,
			"type", alert.Type,
			"severity", alert.Severity,
			"message", alert.Message)

		if s.notifier == nil {
			continue
		}
		report, err := s.notifier.SendAlert(ctx, alert, actx)
		if err != nil {
			s.logEvaluationError(record.ID, err)
			continue
		}
		if failed := report.Count(notification.StatusFailed); failed > 0 {
			s.logger.Warn("部分通知渠道发送失败",
				"record_id", record.ID,
				"type", alert.Type,
				"failed", failed,
				"sent", report.Count(notification.StatusSent))
		}
	}
}

// loadHistory 读取同路由同环境的最近记录并聚合请求耗时
func (s *RecordingService) loadHistory(ctx context.Context, record *models.PerformanceRecord) (*Aggregate, error) {
	if s.options.Thresholds.Outlier.Multiplier <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	records, err := s.store.Query(ctx, RecordFilter{
		RouteName:   record.RouteName,
		Environment: record.Environment,
		ExcludeID:   record.ID,
		Limit:       s.options.HistoryWindow,
		Order:       OrderNewestFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("加载历史记录失败: %w", err)
	}
	agg := AggregateRecords(records, MetricRequestTime)
	return &agg, nil
}

func (s *RecordingService) logEvaluationError(recordID string, err error) {
	evalErr := &EvaluationError{RecordID: recordID, Err: err}
	s.logger.Error("告警评估失败", "record_id", recordID, "error", evalErr)
}
