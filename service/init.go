/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、缓存、通知渠道、记录通道和定时清理的装配
 * @architecture 分层架构 - 服务层
 * @stateFlow 配置 -> 数据库 -> 存储/缓存 -> 通知 -> 记录服务 -> 记录入口(同步/Kafka/Dapr) -> 定时清理
 * @rules 所有依赖初始化成功后才提供API服务；Redis 不可用时降级为无缓存
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs service/config/config.go, main.go
 */

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"perfmon-service/logger"
	"perfmon-service/service/config"
	"perfmon-service/service/distributed_lock"
	"perfmon-service/service/messaging"
	"perfmon-service/service/models"
	"perfmon-service/service/notification"
	"perfmon-service/service/performance"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	DB                        *gorm.DB
	GlobalConfig              *config.Config
	GlobalStore               performance.Store
	GlobalRecordingService    *performance.RecordingService
	GlobalRecorder            performance.Recorder
	GlobalStatisticsService   *performance.StatisticsService
	GlobalRetentionService    *performance.RetentionService
	GlobalNotificationService *notification.NotificationService
	// GlobalDaprHandler 仅在 dapr 传输且本实例消费时非空
	GlobalDaprHandler         *messaging.DaprRecordHandler

	closers      []func()
	stopConsumer context.CancelFunc
	consumerDone chan struct{}
	initLog      *slog.Logger
)

// Init 按配置初始化全部服务
func Init(cfg *config.Config) error {
	GlobalConfig = cfg
	initLog = logger.Component("service")

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	return initServices(cfg, db)
}

// openDatabase 连接postgres并注册查询统计插件
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	closers = append(closers, func() { sqlDB.Close() })

	initLog.Info("数据库连接成功", "host", cfg.Database.Host, "database", cfg.Database.Database)
	return db, nil
}

// initServices 在给定数据库上装配服务，测试中可直接传入sqlite连接
func initServices(cfg *config.Config, db *gorm.DB) error {
	if initLog == nil {
		initLog = logger.Component("service")
	}
	DB = db

	if cfg.Tracking.TrackQueries {
		if err := DB.Use(performance.QueryTracker{}); err != nil {
			return fmt.Errorf("注册查询统计插件失败: %w", err)
		}
	}

	if err := DB.AutoMigrate(&models.PerformanceRecord{}); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	initLog.Info("数据库表结构迁移完成")

	GlobalStore = performance.NewGormStore(DB)
	redisCache := openStatisticsCache(cfg.Redis)
	var statsCache performance.StatisticsCache
	if redisCache != nil {
		statsCache = redisCache
	}
	GlobalStatisticsService = performance.NewStatisticsService(GlobalStore, statsCache, logger.Component("statistics"))

	channels, err := buildChannels(cfg.Notifications)
	if err != nil {
		return err
	}
	dispatcher := notification.NewDispatcher(cfg.Notifications.ChannelTimeout, logger.Component("notification"))
	GlobalNotificationService = notification.NewNotificationService(dispatcher, cfg.Notifications.Enabled, channels...)
	initLog.Info("通知服务初始化完成",
		"enabled", cfg.Notifications.Enabled,
		"channels", GlobalNotificationService.EnabledChannels())

	GlobalRecordingService = performance.NewRecordingService(
		GlobalStore,
		GlobalNotificationService,
		GlobalStatisticsService,
		performance.RecordingOptions{
			Thresholds:    cfg.Thresholds,
			HistoryWindow: cfg.HistoryWindow,
			AsyncAlerts:   cfg.Notifications.AsyncAlerts,
		},
		logger.Component("recording"),
	)
	closers = append(closers, GlobalRecordingService.Wait)

	if err := initRecorder(cfg.Async); err != nil {
		return err
	}

	GlobalRetentionService = performance.NewRetentionService(
		GlobalStore,
		GlobalStatisticsService,
		cfg.Retention.Days,
		cfg.Retention.Schedule,
		logger.Component("retention"),
	)
	if redisCache != nil {
		lockLog := logger.Component("lock")
		lock := distributed_lock.NewRedisLock(redisCache.Client(), "", lockLog)
		GlobalRetentionService.SetLocker(distributed_lock.NewLockExecutor(lock, lockLog))
	}
	if err := GlobalRetentionService.Start(); err != nil {
		return fmt.Errorf("启动记录清理任务失败: %w", err)
	}
	closers = append(closers, GlobalRetentionService.Stop)

	initLog.Info("服务初始化完成", "transport", cfg.Async.Transport)
	return nil
}

// openStatisticsCache Redis不可用时返回nil，统计服务直接查库，定时清理不加锁
func openStatisticsCache(cfg config.RedisConfig) *performance.RedisStatisticsCache {
	if !cfg.Enabled {
		return nil
	}
	cache, err := performance.NewRedisStatisticsCache(performance.RedisCacheConfig{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.TTL,
	})
	if err != nil {
		initLog.Warn("Redis连接失败，统计缓存已禁用", "error", err)
		return nil
	}
	closers = append(closers, func() { cache.Close() })
	return cache
}

// buildChannels 按配置构建通知渠道，启用的脚本在启动时先编译校验
func buildChannels(cfg config.NotificationsConfig) ([]notification.NotificationChannel, error) {
	mqttChannel := notification.NewMQTTChannel(cfg.MQTT)
	closers = append(closers, mqttChannel.Close)

	channels := []notification.NotificationChannel{
		notification.NewEmailChannel(cfg.Email),
		notification.NewWebhookChannel(cfg.Webhook),
		mqttChannel,
	}
	for _, sc := range cfg.Scripts {
		if sc.Enabled {
			if err := notification.ValidateScript(sc.Script); err != nil {
				return nil, fmt.Errorf("通知脚本 %s 无效: %w", sc.Name, err)
			}
		}
		channels = append(channels, notification.NewScriptChannel(sc))
	}
	return channels, nil
}

// initRecorder 选择记录入口，按需启动消费端
func initRecorder(cfg config.AsyncConfig) error {
	handler := messaging.NewRecordHandler(GlobalRecordingService, logger.Component("messaging"))

	switch cfg.Transport {
	case config.TransportKafka:
		publisher := messaging.NewKafkaRecordPublisher(cfg.Kafka)
		closers = append(closers, func() { publisher.Close() })
		GlobalRecorder = publisher

		if cfg.Consume {
			consumer := messaging.NewKafkaRecordConsumer(cfg.Kafka, handler, logger.Component("kafka-consumer"))
			ctx, cancel := context.WithCancel(context.Background())
			stopConsumer = cancel
			consumerDone = make(chan struct{})
			go func() {
				defer close(consumerDone)
				defer consumer.Close()
				if err := consumer.Run(ctx); err != nil {
					initLog.Error("Kafka记录消费者异常退出", "error", err)
				}
			}()
		}

	case config.TransportDapr:
		publisher, err := messaging.NewDaprRecordPublisher(cfg.Dapr)
		if err != nil {
			return err
		}
		closers = append(closers, publisher.Close)
		GlobalRecorder = publisher

		if cfg.Consume {
			GlobalDaprHandler = messaging.NewDaprRecordHandler(cfg.Dapr, handler)
		}

	case config.TransportSync, "":
		GlobalRecorder = GlobalRecordingService

	default:
		return errors.New("不支持的异步传输方式: " + cfg.Transport)
	}
	return nil
}

// Shutdown 停止消费端和定时任务，等待后台告警完成后释放连接
func Shutdown() {
	if stopConsumer != nil {
		stopConsumer()
		<-consumerDone
		stopConsumer = nil
	}
	// 逆序关闭，先停止依赖方
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	closers = nil
}
