/*
 * @module api/controllers/performance_controller
 * @description 性能监控控制器：样本上报、记录查询与导出、路由统计、访问分布、环境列表、通知渠道和记录清理
 * @architecture MVC架构 - 控制器层
 * @stateFlow 请求解析 -> 服务调用 -> 统一响应
 * @rules 无效样本返回400；queued 返回202；duplicate 与 recorded 区分状态码；缺失的统计值输出 null
 * @dependencies github.com/go-chi/render, github.com/spf13/cast
 * @refs service/performance/, api/routes.go
 */

package controllers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"perfmon-service/service/performance"

	"github.com/go-chi/render"
	"github.com/spf13/cast"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
	defaultExportLimit = 1000
	maxExportLimit     = 10000
)

var exportColumns = []string{
	"id", "route_name", "environment", "http_method", "status_code", "route_path",
	"request_time_seconds", "total_queries", "query_time_seconds", "memory_usage_bytes",
	"request_id", "referer", "user_identifier", "user_id", "created_at",
}

// StatisticsReader 统计查询
type StatisticsReader interface {
	RouteStatistics(ctx context.Context, env string) ([]performance.RouteAggregates, error)
	Records(ctx context.Context, filter performance.RecordFilter) ([]performance.RecordView, error)
	Environments(ctx context.Context) ([]string, error)
	AccessDistribution(ctx context.Context, filter performance.RecordFilter, by performance.DistributionKind) ([]performance.TimeBucket, error)
}

// Purger 记录清理
type Purger interface {
	Purge(ctx context.Context, req performance.PurgeRequest) (*performance.PurgeResult, error)
	DeleteMatching(ctx context.Context, req performance.DeleteRequest) (*performance.PurgeResult, error)
}

// ChannelLister 通知渠道查询
type ChannelLister interface {
	IsEnabled() bool
	EnabledChannels() []string
}

// PerformanceController 性能监控控制器
type PerformanceController struct {
	recorder   performance.Recorder
	statistics StatisticsReader
	purger     Purger
	channels   ChannelLister
	defaultEnv string
}

// NewPerformanceController 创建性能监控控制器，defaultEnv 用于未指定 env 的统计查询
func NewPerformanceController(recorder performance.Recorder, statistics StatisticsReader, purger Purger, channels ChannelLister, defaultEnv string) *PerformanceController {
	return &PerformanceController{
		recorder:   recorder,
		statistics: statistics,
		purger:     purger,
		channels:   channels,
		defaultEnv: defaultEnv,
	}
}

// StatisticsResponse 路由统计响应
type StatisticsResponse struct {
	Environment string                        `json:"env" example:"prod"`
	Routes      []performance.RouteAggregates `json:"routes"`
}

// DistributionResponse 访问分布响应
type DistributionResponse struct {
	Environment string                   `json:"env" example:"prod"`
	By          string                   `json:"by" example:"hour"`
	Buckets     []performance.TimeBucket `json:"buckets"`
}

// ExportResponse JSON导出内容
type ExportResponse struct {
	ExportedAt  time.Time                `json:"exported_at"`
	Environment string                   `json:"env,omitempty"`
	Count       int                      `json:"count"`
	Records     []performance.RecordView `json:"records"`
}

// ChannelsResponse 通知渠道响应
type ChannelsResponse struct {
	Enabled  bool     `json:"enabled" example:"true"`
	Channels []string `json:"channels" example:"email,webhook"`
}

// RecordSample 上报性能样本
// @Summary 上报性能样本
// @Description 记录一次请求的性能指标，request_id 重复时不重复记录也不告警
// @Tags 性能监控
// @Accept json
// @Produce json
// @Param request body performance.MetricSample true "性能样本"
// @Success 201 {object} APIResponse{data=performance.RecordOutcome}
// @Success 200 {object} APIResponse{data=performance.RecordOutcome}
// @Success 202 {object} APIResponse{data=performance.RecordOutcome}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /performance/records [post]
func (c *PerformanceController) RecordSample(w http.ResponseWriter, r *http.Request) {
	var sample performance.MetricSample
	if err := render.DecodeJSON(r.Body, &sample); err != nil {
		render.Render(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}

	outcome, err := c.recorder.Record(r.Context(), sample)
	if err != nil {
		var invalid *performance.InvalidSampleError
		if errors.As(err, &invalid) {
			render.Render(w, r, BadRequestResponse("性能样本无效", err))
			return
		}
		render.Render(w, r, InternalErrorResponse("记录性能样本失败", err))
		return
	}

	switch outcome.Status {
	case performance.OutcomeQueued:
		render.Render(w, r, AcceptedResponse("性能样本已进入队列", outcome))
	case performance.OutcomeDuplicate:
		render.Render(w, r, SuccessResponse("性能样本已存在", outcome))
	default:
		render.Render(w, r, CreatedResponse("记录性能样本成功", outcome))
	}
}

// ListRecords 查询原始记录
// @Summary 查询性能记录
// @Description 按环境、路由查询最近的性能记录
// @Tags 性能监控
// @Produce json
// @Param env query string false "环境"
// @Param route query string false "路由名"
// @Param limit query int false "条数，默认100，最大1000"
// @Param since query string false "起始时间" format(datetime)
// @Param until query string false "截止时间" format(datetime)
// @Param status query int false "状态码"
// @Param order query string false "排序" Enums(desc,asc)
// @Success 200 {object} APIResponse{data=[]performance.RecordView}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /performance/records [get]
func (c *PerformanceController) ListRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r, defaultRecordLimit, maxRecordLimit)
	if err != nil {
		render.Render(w, r, BadRequestResponse("查询参数错误", err))
		return
	}

	records, err := c.statistics.Records(r.Context(), filter)
	if err != nil {
		render.Render(w, r, InternalErrorResponse("查询性能记录失败", err))
		return
	}
	render.Render(w, r, SuccessResponse("查询性能记录成功", records))
}

// GetStatistics 路由统计
// @Summary 路由性能统计
// @Description 获取环境下全部路由的聚合统计，按平均请求耗时降序
// @Tags 性能监控
// @Produce json
// @Param env query string false "环境，默认为本实例环境"
// @Success 200 {object} APIResponse{data=StatisticsResponse}
// @Failure 500 {object} APIResponse
// @Router /performance/statistics [get]
func (c *PerformanceController) GetStatistics(w http.ResponseWriter, r *http.Request) {
	env := strings.TrimSpace(r.URL.Query().Get("env"))
	if env == "" {
		env = c.defaultEnv
	}

	stats, err := c.statistics.RouteStatistics(r.Context(), env)
	if err != nil {
		render.Render(w, r, InternalErrorResponse("获取路由统计失败", err))
		return
	}
	if stats == nil {
		stats = []performance.RouteAggregates{}
	}
	render.Render(w, r, SuccessResponse("获取路由统计成功", StatisticsResponse{Environment: env, Routes: stats}))
}

// GetDistribution 访问分布
// @Summary 访问分布统计
// @Description 按小时（0-23）或星期（0=周日）统计访问量、平均请求耗时和状态码分布
// @Tags 性能监控
// @Produce json
// @Param env query string false "环境，默认为本实例环境"
// @Param by query string false "时间维度" Enums(hour,day_of_week)
// @Param route query string false "路由名"
// @Param status query int false "状态码"
// @Param since query string false "起始时间" format(datetime)
// @Param until query string false "截止时间" format(datetime)
// @Success 200 {object} APIResponse{data=DistributionResponse}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /performance/distribution [get]
func (c *PerformanceController) GetDistribution(w http.ResponseWriter, r *http.Request) {
	by, ok := performance.ParseDistributionKind(r.URL.Query().Get("by"))
	if !ok {
		render.Render(w, r, BadRequestResponse("查询参数错误", errors.New("by 只能为 hour 或 day_of_week")))
		return
	}
	filter, err := parseRecordFilter(r, 0, 0)
	if err != nil {
		render.Render(w, r, BadRequestResponse("查询参数错误", err))
		return
	}
	if filter.Environment == "" {
		filter.Environment = c.defaultEnv
	}

	buckets, err := c.statistics.AccessDistribution(r.Context(), filter, by)
	if err != nil {
		render.Render(w, r, InternalErrorResponse("获取访问分布失败", err))
		return
	}
	render.Render(w, r, SuccessResponse("获取访问分布成功", DistributionResponse{
		Environment: filter.Environment,
		By:          string(by),
		Buckets:     buckets,
	}))
}

// ExportRecords 导出记录
// @Summary 导出性能记录
// @Description 按条件导出性能记录为CSV或JSON附件
// @Tags 性能监控
// @Produce json
// @Produce text/csv
// @Param format query string false "导出格式" Enums(csv,json)
// @Param env query string false "环境"
// @Param route query string false "路由名"
// @Param since query string false "起始时间" format(datetime)
// @Param until query string false "截止时间" format(datetime)
// @Param limit query int false "条数，默认1000，最大10000"
// @Success 200 {object} ExportResponse
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /performance/export [get]
func (c *PerformanceController) ExportRecords(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		render.Render(w, r, BadRequestResponse("查询参数错误", errors.New("format 只能为 csv 或 json")))
		return
	}
	filter, err := parseRecordFilter(r, defaultExportLimit, maxExportLimit)
	if err != nil {
		render.Render(w, r, BadRequestResponse("查询参数错误", err))
		return
	}

	records, err := c.statistics.Records(r.Context(), filter)
	if err != nil {
		render.Render(w, r, InternalErrorResponse("导出性能记录失败", err))
		return
	}

	now := time.Now()
	filename := "performance_records_" + now.Format("20060102_150405") + "." + format
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if format == "json" {
		if records == nil {
			records = []performance.RecordView{}
		}
		render.JSON(w, r, ExportResponse{
			ExportedAt:  now,
			Environment: filter.Environment,
			Count:       len(records),
			Records:     records,
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write(exportColumns)
	for _, rec := range records {
		_ = writer.Write(exportRow(rec))
	}
	writer.Flush()
}

// ListEnvironments 环境列表
// @Summary 环境列表
// @Description 获取已有记录的全部环境
// @Tags 性能监控
// @Produce json
// @Success 200 {object} APIResponse{data=[]string}
// @Failure 500 {object} APIResponse
// @Router /performance/environments [get]
func (c *PerformanceController) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := c.statistics.Environments(r.Context())
	if err != nil {
		render.Render(w, r, InternalErrorResponse("获取环境列表失败", err))
		return
	}
	if envs == nil {
		envs = []string{}
	}
	render.Render(w, r, SuccessResponse("获取环境列表成功", envs))
}

// ListChannels 通知渠道
// @Summary 通知渠道
// @Description 获取通知总开关和已启用的通知渠道
// @Tags 性能监控
// @Produce json
// @Success 200 {object} APIResponse{data=ChannelsResponse}
// @Router /performance/channels [get]
func (c *PerformanceController) ListChannels(w http.ResponseWriter, r *http.Request) {
	resp := ChannelsResponse{Channels: []string{}}
	if c.channels != nil {
		resp.Enabled = c.channels.IsEnabled()
		resp.Channels = append(resp.Channels, c.channels.EnabledChannels()...)
	}
	render.Render(w, r, SuccessResponse("获取通知渠道成功", resp))
}

// Purge 清理记录
// @Summary 清理性能记录
// @Description 删除N天前的记录或全部记录，dry_run 时只统计条数
// @Tags 性能监控
// @Accept json
// @Produce json
// @Param request body performance.PurgeRequest true "清理请求"
// @Success 200 {object} APIResponse{data=performance.PurgeResult}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /performance/purge [post]
func (c *PerformanceController) Purge(w http.ResponseWriter, r *http.Request) {
	var req performance.PurgeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}

	result, err := c.purger.Purge(r.Context(), req)
	if err != nil {
		if errors.Is(err, performance.ErrInvalidPurgeRequest) {
			render.Render(w, r, BadRequestResponse("清理参数错误", err))
			return
		}
		render.Render(w, r, InternalErrorResponse("清理性能记录失败", err))
		return
	}

	msg := "清理性能记录成功"
	if result.DryRun {
		msg = "预览清理结果成功"
	}
	render.Render(w, r, SuccessResponse(msg, result))
}

// DeleteRecords 按条件删除记录
// @Summary 按条件删除性能记录
// @Description 删除环境下符合条件的记录，dry_run=true 时只统计条数
// @Tags 性能监控
// @Produce json
// @Param env query string true "环境"
// @Param route query string false "路由名"
// @Param status query int false "状态码"
// @Param since query string false "起始时间" format(datetime)
// @Param until query string false "截止时间" format(datetime)
// @Param min_query_time query number false "最小查询耗时（秒）"
// @Param max_query_time query number false "最大查询耗时（秒）"
// @Param min_memory query int false "最小内存（字节）"
// @Param max_memory query int false "最大内存（字节）"
// @Param referer query string false "来源页面包含"
// @Param user query string false "用户标识或用户ID"
// @Param dry_run query bool false "只统计不删除"
// @Success 200 {object} APIResponse{data=performance.PurgeResult}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /performance/records [delete]
func (c *PerformanceController) DeleteRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r, 0, 0)
	if err != nil {
		render.Render(w, r, BadRequestResponse("查询参数错误", err))
		return
	}
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		if dryRun, err = cast.ToBoolE(v); err != nil {
			render.Render(w, r, BadRequestResponse("查询参数错误", errors.New("dry_run 必须为布尔值")))
			return
		}
	}

	result, err := c.purger.DeleteMatching(r.Context(), performance.DeleteRequest{Filter: filter, DryRun: dryRun})
	if err != nil {
		if errors.Is(err, performance.ErrInvalidPurgeRequest) {
			render.Render(w, r, BadRequestResponse("删除参数错误", err))
			return
		}
		render.Render(w, r, InternalErrorResponse("删除性能记录失败", err))
		return
	}

	msg := "删除性能记录成功"
	if result.DryRun {
		msg = "预览删除结果成功"
	}
	render.Render(w, r, SuccessResponse(msg, result))
}

// exportRow 按 exportColumns 的顺序输出一行，缺失值为空串
func exportRow(v performance.RecordView) []string {
	rec := v.PerformanceRecord
	requestID := ""
	if rec.RequestID != nil {
		requestID = *rec.RequestID
	}
	return []string{
		rec.ID,
		rec.RouteName,
		rec.Environment,
		rec.HTTPMethod,
		optionalString(rec.StatusCode),
		rec.RoutePath,
		optionalString(rec.RequestTimeSeconds),
		optionalString(rec.TotalQueries),
		optionalString(rec.QueryTimeSeconds),
		optionalString(rec.MemoryUsageBytes),
		requestID,
		rec.Referer,
		rec.UserIdentifier,
		rec.UserID,
		rec.CreatedAt.Format(time.RFC3339),
	}
}

func optionalString[T int | int64 | float64](v *T) string {
	if v == nil {
		return ""
	}
	return cast.ToString(*v)
}

// parseRecordFilter 解析记录查询参数，defaultLimit 为0时不限制条数
func parseRecordFilter(r *http.Request, defaultLimit, maxLimit int) (performance.RecordFilter, error) {
	q := r.URL.Query()
	filter := performance.RecordFilter{
		RouteName:   strings.TrimSpace(q.Get("route")),
		Environment: strings.TrimSpace(q.Get("env")),
		Referer:     strings.TrimSpace(q.Get("referer")),
		User:        strings.TrimSpace(q.Get("user")),
		Limit:       defaultLimit,
		Order:       performance.OrderNewestFirst,
	}

	if v := q.Get("limit"); v != "" && maxLimit > 0 {
		limit, err := cast.ToIntE(v)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit 必须为正整数")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		filter.Limit = limit
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since"), "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTimeParam(q.Get("until"), "until"); err != nil {
		return filter, err
	}
	if v := q.Get("status"); v != "" {
		code, err := cast.ToIntE(v)
		if err != nil || code < 100 || code > 599 {
			return filter, errors.New("status 必须为HTTP状态码")
		}
		filter.StatusCode = &code
	}
	if filter.MinQueryTime, err = parseFloatParam(q.Get("min_query_time"), "min_query_time"); err != nil {
		return filter, err
	}
	if filter.MaxQueryTime, err = parseFloatParam(q.Get("max_query_time"), "max_query_time"); err != nil {
		return filter, err
	}
	if filter.MinMemoryBytes, err = parseInt64Param(q.Get("min_memory"), "min_memory"); err != nil {
		return filter, err
	}
	if filter.MaxMemoryBytes, err = parseInt64Param(q.Get("max_memory"), "max_memory"); err != nil {
		return filter, err
	}

	switch performance.SortOrder(q.Get("order")) {
	case "", performance.OrderNewestFirst:
	case performance.OrderOldestFirst:
		filter.Order = performance.OrderOldestFirst
	default:
		return filter, errors.New("order 只能为 desc 或 asc")
	}
	return filter, nil
}

func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s 必须为RFC3339时间", name)
	}
	return &t, nil
}

func parseFloatParam(v, name string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%s 必须为非负数", name)
	}
	return &f, nil
}

func parseInt64Param(v, name string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%s 必须为非负整数", name)
	}
	return &n, nil
}
