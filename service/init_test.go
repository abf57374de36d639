package service

import (
	"context"
	"testing"

	"perfmon-service/service/config"
	"perfmon-service/service/notification"
	"perfmon-service/service/performance"
	"perfmon-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitServices_SyncTransport(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	cfg := config.Default()
	cfg.Notifications.AsyncAlerts = false
	cfg.Notifications.Webhook.Enabled = true
	cfg.Notifications.Webhook.URL = "http://hooks.local/perf"

	require.NoError(t, initServices(cfg, tdb.DB))
	defer Shutdown()

	assert.Same(t, GlobalRecordingService, GlobalRecorder)
	assert.Nil(t, GlobalDaprHandler)
	assert.Equal(t, []string{"webhook"}, GlobalNotificationService.EnabledChannels())

	ctx := context.Background()
	outcome, err := GlobalRecorder.Record(ctx, performance.MetricSample{
		RouteName:          "app_home",
		Environment:        "prod",
		RequestTimeSeconds: performance.Float64(0.2),
		RequestID:          "req-init-1",
	})
	require.NoError(t, err)
	assert.Equal(t, performance.OutcomeRecorded, outcome.Status)

	stats, err := GlobalStatisticsService.RouteStatistics(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].AccessCount)
}

func TestInitServices_QueryTrackerCountsRequestQueries(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	cfg := config.Default()
	cfg.Notifications.AsyncAlerts = false
	require.NoError(t, initServices(cfg, tdb.DB))
	defer Shutdown()

	ctx, stats := performance.WithQueryStats(context.Background())
	_, err := GlobalStore.Environments(ctx)
	require.NoError(t, err)

	count, _ := stats.Snapshot()
	assert.EqualValues(t, 1, count)
}

func TestInitServices_InvalidScriptFailsStartup(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	cfg := config.Default()
	cfg.Notifications.Scripts = []notification.ScriptConfig{{Enabled: true, Name: "broken", Script: "return true, nil +"}}
	err := initServices(cfg, tdb.DB)
	Shutdown()
	assert.ErrorContains(t, err, "broken")
}
