package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "perfmon_notifications_total",
		Help: "Total number of alert notifications by channel and result",
	},
	[]string{"channel", "status"},
)
