/*
 * @module service/config/config
 * @description 服务配置：默认值 -> YAML 文件 -> 环境变量覆盖
 * @architecture 分层架构 - 配置层
 * @stateFlow Default() -> 读取 PERFMON_CONFIG 指定文件 -> applyEnvironmentOverrides -> Validate
 * @rules 配置只在启动时解析一次；日志开关记录其来源(default/file/env)
 * @dependencies gopkg.in/yaml.v3, github.com/spf13/cast
 * @refs main.go, service/init.go
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	// 精简镜像中没有系统时区库
	_ "time/tzdata"

	"perfmon-service/service/messaging"
	"perfmon-service/service/notification"
	"perfmon-service/service/performance"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv 配置文件路径环境变量
const ConfigPathEnv = "PERFMON_CONFIG"

// 异步传输方式
const (
	TransportSync  = "sync"
	TransportKafka = "kafka"
	TransportDapr  = "dapr"
)

// 日志开关来源
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
)

// Config 服务配置
type Config struct {
	Server        ServerConfig                `json:"server" yaml:"server"`
	Database      DatabaseConfig              `json:"database" yaml:"database"`
	Redis         RedisConfig                 `json:"redis" yaml:"redis"`
	Tracking      TrackingConfig              `json:"tracking" yaml:"tracking"`
	Thresholds    performance.ThresholdConfig `json:"thresholds" yaml:"thresholds"`
	HistoryWindow int                         `json:"history_window" yaml:"history_window"`
	Notifications NotificationsConfig         `json:"notifications" yaml:"notifications"`
	Async         AsyncConfig                 `json:"async" yaml:"async"`
	Retention     RetentionConfig             `json:"retention" yaml:"retention"`
	Logging       LoggingConfig               `json:"logging" yaml:"logging"`
	Dashboard     DashboardConfig             `json:"dashboard" yaml:"dashboard"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port           string   `json:"port" yaml:"port"`
	BaseContext    string   `json:"base_context" yaml:"base_context"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// DatabaseConfig 数据库配置，URL 非空时优先使用
type DatabaseConfig struct {
	URL          string `json:"url" yaml:"url"`
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Database     string `json:"database" yaml:"database"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
	Schema       string `json:"schema" yaml:"schema"`
	SSLMode      string `json:"ssl_mode" yaml:"ssl_mode"`
	TimeZone     string `json:"timezone" yaml:"timezone"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN postgres连接串
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	timeZone := d.TimeZone
	if timeZone == "" {
		timeZone = "UTC"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.Username, d.Password, d.Database, d.Port, d.SSLMode, timeZone)
	if d.Schema != "" {
		dsn += " search_path=" + d.Schema
	}
	return dsn
}

// RedisConfig 统计缓存配置
type RedisConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Host      string        `json:"host" yaml:"host"`
	Port      int           `json:"port" yaml:"port"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

// TrackingConfig HTTP请求跟踪配置
type TrackingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Environment 本实例写入样本的环境名
	Environment string `json:"environment" yaml:"environment"`
	// TrackedEnvironments 为空表示所有环境都跟踪
	TrackedEnvironments []string      `json:"tracked_environments" yaml:"tracked_environments"`
	IgnoreRoutes        []string      `json:"ignore_routes" yaml:"ignore_routes"`
	TrackQueries        bool          `json:"track_queries" yaml:"track_queries"`
	TrackMemory         bool          `json:"track_memory" yaml:"track_memory"`
	RecordTimeout       time.Duration `json:"record_timeout" yaml:"record_timeout"`
	// SamplingRate 被跟踪请求的比例，0 不跟踪，1 全部跟踪
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`
	// TrustRequestID 为 true 时沿用客户端传入的 X-Request-Id，只应在网关统一注入时开启
	TrustRequestID bool `json:"trust_request_id" yaml:"trust_request_id"`
}

// IsTracked 判断环境是否需要跟踪
func (t TrackingConfig) IsTracked(env string) bool {
	if !t.Enabled {
		return false
	}
	if len(t.TrackedEnvironments) == 0 {
		return true
	}
	for _, e := range t.TrackedEnvironments {
		if e == env {
			return true
		}
	}
	return false
}

// NotificationsConfig 告警通知配置
type NotificationsConfig struct {
	Enabled        bool                        `json:"enabled" yaml:"enabled"`
	ChannelTimeout time.Duration               `json:"channel_timeout" yaml:"channel_timeout"`
	AsyncAlerts    bool                        `json:"async_alerts" yaml:"async_alerts"`
	Email          notification.EmailConfig    `json:"email" yaml:"email"`
	Webhook        notification.WebhookConfig  `json:"webhook" yaml:"webhook"`
	MQTT           notification.MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Scripts        []notification.ScriptConfig `json:"scripts" yaml:"scripts"`
}

// AsyncConfig 异步记录配置
type AsyncConfig struct {
	Transport string `json:"transport" yaml:"transport"`
	// Consume 为 true 时本实例同时运行消费端
	Consume bool                  `json:"consume" yaml:"consume"`
	Kafka   messaging.KafkaConfig `json:"kafka" yaml:"kafka"`
	Dapr    messaging.DaprConfig  `json:"dapr" yaml:"dapr"`
}

// RetentionConfig 记录保留配置，Days 为 0 时不启用定时清理
type RetentionConfig struct {
	Days     int    `json:"days" yaml:"days"`
	Schedule string `json:"schedule" yaml:"schedule"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Enabled *bool  `json:"enabled" yaml:"enabled"`
	Level   string `json:"level" yaml:"level"`
	// EnabledSource 开关来源，不从文件读取
	EnabledSource string `json:"-" yaml:"-"`
}

// IsEnabled 日志开关，未设置时视为开启
func (l LoggingConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// DashboardConfig 查询接口访问控制，TokenHash 为空表示不校验
type DashboardConfig struct {
	TokenHash string `json:"token_hash" yaml:"token_hash"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "perfmon",
			Username:     "postgres",
			SSLMode:      "disable",
			TimeZone:     "UTC",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "perfmon:stats:",
			TTL:       performance.DefaultCacheTTL,
		},
		Tracking: TrackingConfig{
			Enabled:       true,
			Environment:   "dev",
			IgnoreRoutes:  []string{"/health", "/ready", "/metrics", "/swagger/*", "/performance/*"},
			TrackQueries:  true,
			TrackMemory:   true,
			RecordTimeout: 5 * time.Second,
			SamplingRate:  1,
		},
		Thresholds:    performance.DefaultThresholds(),
		HistoryWindow: performance.DefaultHistoryWindow,
		Notifications: NotificationsConfig{
			Enabled:        false,
			ChannelTimeout: notification.DefaultChannelTimeout,
			AsyncAlerts:    true,
			Webhook:        notification.WebhookConfig{Format: notification.WebhookFormatJSON},
			MQTT:           notification.MQTTConfig{Topic: "perfmon/alerts"},
		},
		Async: AsyncConfig{
			Transport: TransportSync,
			Kafka: messaging.KafkaConfig{
				Topic:      "perfmon.records",
				GroupID:    "perfmon-recorder",
				MaxRetries: 3,
				RetryDelay: time.Second,
			},
			Dapr: messaging.DaprConfig{
				PubsubName: "pubsub",
				Topic:      "perfmon.records",
			},
		},
		Retention: RetentionConfig{
			Schedule: performance.DefaultRetentionSchedule,
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnabledSource: SourceDefault,
		},
	}
}

// Load 加载配置；path 为空时读取 PERFMON_CONFIG，仍为空则只用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile 解析YAML文件覆盖默认值
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败 %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("解析配置文件失败 %s: %w", path, err)
	}
	if c.Logging.Enabled != nil {
		c.Logging.EnabledSource = SourceFile
	}
	return nil
}

// applyEnvironmentOverrides 应用环境变量覆盖
func (c *Config) applyEnvironmentOverrides() error {
	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := cast.ToIntE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("环境变量 %s 不是整数: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) bool {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := cast.ToBoolE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("环境变量 %s 不是布尔值: %w", key, err))
				return false
			}
			*dst = b
			return true
		}
		return false
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := cast.ToFloat64E(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("环境变量 %s 不是数字: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setList := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	setString("LISTEN_PORT", &c.Server.Port)
	setString("BASE_CONTEXT", &c.Server.BaseContext)
	setList("CORS_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	setString("DATABASE_URL", &c.Database.URL)
	setString("DB_HOST", &c.Database.Host)
	setInt("DB_PORT", &c.Database.Port)
	setString("DB_USER", &c.Database.Username)
	setString("DB_PASSWORD", &c.Database.Password)
	setString("DB_NAME", &c.Database.Database)
	setString("DB_SCHEMA", &c.Database.Schema)
	setString("DB_SSLMODE", &c.Database.SSLMode)
	setString("DB_TIMEZONE", &c.Database.TimeZone)

	setBool("REDIS_ENABLED", &c.Redis.Enabled)
	setString("REDIS_HOST", &c.Redis.Host)
	setInt("REDIS_PORT", &c.Redis.Port)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setInt("REDIS_DB", &c.Redis.DB)

	setBool("PERFMON_TRACKING_ENABLED", &c.Tracking.Enabled)
	setString("PERFMON_ENVIRONMENT", &c.Tracking.Environment)
	setList("PERFMON_TRACKED_ENVIRONMENTS", &c.Tracking.TrackedEnvironments)
	setFloat("PERFMON_SAMPLING_RATE", &c.Tracking.SamplingRate)
	setBool("PERFMON_TRUST_REQUEST_ID", &c.Tracking.TrustRequestID)

	setBool("PERFMON_NOTIFICATIONS_ENABLED", &c.Notifications.Enabled)
	setString("PERFMON_WEBHOOK_URL", &c.Notifications.Webhook.URL)
	if c.Notifications.Webhook.URL != "" && os.Getenv("PERFMON_WEBHOOK_URL") != "" {
		c.Notifications.Webhook.Enabled = true
	}

	setString("PERFMON_ASYNC_TRANSPORT", &c.Async.Transport)
	setBool("PERFMON_ASYNC_CONSUME", &c.Async.Consume)
	setList("KAFKA_BROKERS", &c.Async.Kafka.Brokers)
	setString("KAFKA_TOPIC", &c.Async.Kafka.Topic)
	setString("DAPR_PUBSUB_NAME", &c.Async.Dapr.PubsubName)

	setInt("PERFMON_RETENTION_DAYS", &c.Retention.Days)
	setString("PERFMON_DASHBOARD_TOKEN_HASH", &c.Dashboard.TokenHash)
	setString("PERFMON_LOG_LEVEL", &c.Logging.Level)

	var enabled bool
	if setBool("PERFMON_LOGGING_ENABLED", &enabled) {
		c.Logging.Enabled = &enabled
		c.Logging.EnabledSource = SourceEnv
	}

	return errors.Join(errs...)
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Async.Transport {
	case TransportSync, TransportKafka, TransportDapr:
	default:
		return fmt.Errorf("不支持的异步传输方式: %s", c.Async.Transport)
	}
	if c.Async.Transport == TransportKafka && len(c.Async.Kafka.Brokers) == 0 {
		return errors.New("kafka 传输需要配置 brokers")
	}
	if strings.TrimSpace(c.Tracking.Environment) == "" {
		return errors.New("tracking.environment 不能为空")
	}
	if !(c.Tracking.SamplingRate >= 0 && c.Tracking.SamplingRate <= 1) {
		return fmt.Errorf("tracking.sampling_rate 必须在0到1之间: %v", c.Tracking.SamplingRate)
	}
	if c.Database.TimeZone != "" {
		if _, err := time.LoadLocation(c.Database.TimeZone); err != nil {
			return fmt.Errorf("database.timezone 无效: %w", err)
		}
	}
	if c.Retention.Days < 0 {
		return errors.New("retention.days 不能为负数")
	}
	if c.HistoryWindow < 0 {
		return errors.New("history_window 不能为负数")
	}

	// 渠道名称在分发时必须唯一
	names := map[string]bool{"email": true, "webhook": true, "mqtt": true}
	for _, sc := range c.Notifications.Scripts {
		name := sc.Name
		if name == "" {
			name = "script"
		}
		if names[name] {
			return fmt.Errorf("通知渠道名称重复: %s", name)
		}
		names[name] = true
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
