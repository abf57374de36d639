package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"perfmon-service/api"
	_ "perfmon-service/docs"
	"perfmon-service/logger"
	"perfmon-service/service"
	"perfmon-service/service/config"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title 性能监控服务 API
// @version 1.0
// @description 请求性能记录、路由统计和阈值告警服务
// @BasePath /
func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logger.InitLogger(cfg.Logging.IsEnabled(), cfg.Logging.Level)
	logLoggingSource(cfg.Logging)

	if err := service.Init(cfg); err != nil {
		log.Fatalf("服务初始化失败: %v", err)
	}
	defer service.Shutdown()

	mux := chi.NewRouter()

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if cfg.Server.BaseContext != "" {
		mux.Route(cfg.Server.BaseContext, mountRoutes)
	} else {
		mountRoutes(mux)
	}

	s := daprd.NewServiceWithMux(":"+cfg.Server.Port, mux)
	if handler := service.GlobalDaprHandler; handler != nil {
		if err := s.AddTopicEventHandler(handler.Subscription(), handler.HandleEvent); err != nil {
			log.Fatalf("注册Dapr订阅失败: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("收到退出信号，停止服务")
		if err := s.GracefulStop(); err != nil {
			slog.Error("停止HTTP服务失败", "error", err)
		}
	}()

	slog.Info("服务启动", "port", cfg.Server.Port, "base_context", cfg.Server.BaseContext)
	if err := s.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("error: %v", err)
	}

	if api.Tracker != nil {
		api.Tracker.Wait()
	}
}

func mountRoutes(r chi.Router) {
	api.InitRoute(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/swagger*", httpSwagger.WrapHandler)
}

// logLoggingSource 启动时输出一次日志开关及其来源；日志关闭时写到标准错误
func logLoggingSource(cfg config.LoggingConfig) {
	enabled := cfg.IsEnabled()
	if !enabled {
		log.Printf("日志已关闭 source=%s", cfg.EnabledSource)
		return
	}
	if cfg.EnabledSource == config.SourceDefault {
		slog.Warn("未配置 logging.enabled，使用默认值", "enabled", enabled, "source", cfg.EnabledSource)
		return
	}
	slog.Info("日志开关", "enabled", enabled, "source", cfg.EnabledSource)
}
