package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"perfmon-service/service/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perfmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, TransportSync, cfg.Async.Transport)
	assert.True(t, cfg.Logging.IsEnabled())
	assert.Equal(t, SourceDefault, cfg.Logging.EnabledSource)
	assert.Equal(t, 0.5, *cfg.Thresholds.RequestTime.Warning)
	assert.Equal(t, 1.0, *cfg.Thresholds.RequestTime.Critical)
	assert.Equal(t, 100, cfg.HistoryWindow)
	assert.Equal(t, 0, cfg.Retention.Days)
	assert.Equal(t, 1.0, cfg.Tracking.SamplingRate)
	assert.False(t, cfg.Tracking.TrustRequestID)
	assert.Equal(t, "UTC", cfg.Database.TimeZone)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "9090"
tracking:
  environment: prod
  tracked_environments: [prod, staging]
  sampling_rate: 0.25
thresholds:
  request_time:
    warning: 0.2
  outlier:
    multiplier: 5
    min_samples: 20
notifications:
  enabled: true
  channel_timeout: 3s
  webhook:
    enabled: true
    url: http://hooks.local/perf
    format: slack
retention:
  days: 30
logging:
  enabled: false
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "prod", cfg.Tracking.Environment)
	assert.True(t, cfg.Tracking.IsTracked("staging"))
	assert.False(t, cfg.Tracking.IsTracked("dev"))
	assert.Equal(t, 0.25, cfg.Tracking.SamplingRate)
	assert.Equal(t, 0.2, *cfg.Thresholds.RequestTime.Warning)
	// 文件未提及的字段保留默认值
	assert.Equal(t, 1.0, *cfg.Thresholds.RequestTime.Critical)
	assert.Equal(t, 5.0, cfg.Thresholds.Outlier.Multiplier)
	assert.Equal(t, 3*time.Second, cfg.Notifications.ChannelTimeout)
	assert.Equal(t, "slack", cfg.Notifications.Webhook.Format)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.False(t, cfg.Logging.IsEnabled())
	assert.Equal(t, SourceFile, cfg.Logging.EnabledSource)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  enabled: false\n")
	t.Setenv("LISTEN_PORT", "7000")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("PERFMON_LOGGING_ENABLED", "true")
	t.Setenv("PERFMON_ASYNC_TRANSPORT", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PERFMON_WEBHOOK_URL", "http://hooks.local/x")
	t.Setenv("PERFMON_SAMPLING_RATE", "0.1")
	t.Setenv("PERFMON_TRUST_REQUEST_ID", "true")
	t.Setenv("DB_TIMEZONE", "Europe/Berlin")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.True(t, cfg.Logging.IsEnabled())
	assert.Equal(t, SourceEnv, cfg.Logging.EnabledSource)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Async.Kafka.Brokers)
	assert.True(t, cfg.Notifications.Webhook.Enabled)
	assert.Equal(t, 0.1, cfg.Tracking.SamplingRate)
	assert.True(t, cfg.Tracking.TrustRequestID)
	assert.Equal(t, "Europe/Berlin", cfg.Database.TimeZone)
	assert.Contains(t, cfg.Database.DSN(), "TimeZone=Europe/Berlin")
}

func TestLoad_Errors(t *testing.T) {
	t.Run("环境变量类型错误", func(t *testing.T) {
		t.Setenv("DB_PORT", "five")
		_, err := Load(writeConfigFile(t, ""))
		assert.ErrorContains(t, err, "DB_PORT")
	})

	t.Run("未知传输方式", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "async:\n  transport: carrier-pigeon\n"))
		assert.ErrorContains(t, err, "carrier-pigeon")
	})

	t.Run("kafka缺少brokers", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "")
		_, err := Load(writeConfigFile(t, "async:\n  transport: kafka\n"))
		assert.Error(t, err)
	})

	t.Run("采样率超出范围", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "tracking:\n  sampling_rate: 1.5\n"))
		assert.ErrorContains(t, err, "sampling_rate")

		_, err = Load(writeConfigFile(t, "tracking:\n  sampling_rate: -0.1\n"))
		assert.ErrorContains(t, err, "sampling_rate")
	})

	t.Run("采样率不是数字", func(t *testing.T) {
		t.Setenv("PERFMON_SAMPLING_RATE", "half")
		_, err := Load(writeConfigFile(t, ""))
		assert.ErrorContains(t, err, "PERFMON_SAMPLING_RATE")
	})

	t.Run("时区无效", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "database:\n  timezone: Mars/Olympus\n"))
		assert.ErrorContains(t, err, "timezone")
	})

	t.Run("文件不存在", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("YAML格式错误", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "server: [unclosed"))
		assert.Error(t, err)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := Default().Database
	d.Schema = "perf"
	assert.Contains(t, d.DSN(), "dbname=perfmon")
	assert.Contains(t, d.DSN(), "search_path=perf")
	assert.Contains(t, d.DSN(), "TimeZone=UTC")
	assert.NotContains(t, d.DSN(), "Asia/Shanghai")

	d.TimeZone = ""
	assert.Contains(t, d.DSN(), "TimeZone=UTC")
	d.TimeZone = "America/New_York"
	assert.Contains(t, d.DSN(), "TimeZone=America/New_York")

	d.URL = "postgres://u:p@db/perf"
	assert.Equal(t, "postgres://u:p@db/perf", d.DSN())
}

func TestValidate_ScriptNamesUnique(t *testing.T) {
	cfg := Default()
	cfg.Notifications.Scripts = []notification.ScriptConfig{{Name: "ops"}, {}}
	assert.NoError(t, cfg.Validate())

	cfg.Notifications.Scripts = append(cfg.Notifications.Scripts, notification.ScriptConfig{})
	assert.ErrorContains(t, cfg.Validate(), "script")

	cfg.Notifications.Scripts = []notification.ScriptConfig{{Name: "webhook"}}
	assert.Error(t, cfg.Validate())
}
