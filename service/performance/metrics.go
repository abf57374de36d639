package performance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfmon_records_total",
			Help: "Total number of record calls by outcome",
		},
		[]string{"outcome"},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfmon_alerts_total",
			Help: "Total number of alerts produced by type and severity",
		},
		[]string{"type", "severity"},
	)

	statisticsCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfmon_statistics_cache_total",
			Help: "Statistics cache lookups by result",
		},
		[]string{"result"},
	)

	recordedRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perfmon_recorded_request_seconds",
			Help:    "Request time of recorded samples",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"environment"},
	)

	purgedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perfmon_purged_records_total",
			Help: "Total number of records removed by retention",
		},
	)
)
