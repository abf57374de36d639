/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式；/performance 下的查询接口受鉴权保护
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers/, api/middleware/
 */

package api

import (
	"perfmon-service/api/controllers"
	perfmw "perfmon-service/api/middleware"
	"perfmon-service/logger"
	"perfmon-service/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// Tracker 当前路由使用的请求跟踪中间件，关闭服务时等待其上报完成
var Tracker *perfmw.PerformanceTracker

// InitRoute 初始化所有API路由
func InitRoute(r chi.Router) {
	cfg := service.GlobalConfig

	// 基础中间件
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	Tracker = perfmw.NewPerformanceTracker(service.GlobalRecorder, cfg.Tracking, logger.Component("tracker"))
	r.Use(Tracker.Middleware)

	// 健康检查
	var pinger controllers.Pinger
	if service.DB != nil {
		if sqlDB, err := service.DB.DB(); err == nil {
			pinger = sqlDB
		}
	}
	healthController := controllers.NewHealthController(pinger)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 性能监控
	r.Route("/performance", func(r chi.Router) {
		performanceController := controllers.NewPerformanceController(
			service.GlobalRecorder,
			service.GlobalStatisticsService,
			service.GlobalRetentionService,
			service.GlobalNotificationService,
			cfg.Tracking.Environment,
		)

		// 样本上报不需要鉴权，其余查询和清理接口需要
		r.Post("/records", performanceController.RecordSample)

		r.Group(func(r chi.Router) {
			r.Use(perfmw.NewDashboardAuthMiddleware(cfg.Dashboard.TokenHash).Middleware)
			r.Get("/records", performanceController.ListRecords)
			r.Delete("/records", performanceController.DeleteRecords)
			r.Get("/export", performanceController.ExportRecords)
			r.Get("/distribution", performanceController.GetDistribution)
			r.Get("/statistics", performanceController.GetStatistics)
			r.Get("/environments", performanceController.ListEnvironments)
			r.Get("/channels", performanceController.ListChannels)
			r.Post("/purge", performanceController.Purge)
		})
	})
}
