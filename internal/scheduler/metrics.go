package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BuildsQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "builds_queued_total",
		Help: "Total number of build jobs accepted",
	})
	BuildsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "builds_running",
		Help: "Number of builds currently running",
	})
	BuildsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "builds_completed_total",
		Help: "Total number of builds that finished successfully",
	})
	BuildsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "builds_failed_total",
		Help: "Total number of builds that failed",
	})
	BuildsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "builds_cancelled_total",
		Help: "Total number of builds cancelled before or during execution",
	})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "builds_queue_depth",
		Help: "Number of jobs waiting across all target queues",
	})
)

func init() {
	prometheus.MustRegister(
		BuildsQueuedTotal,
		BuildsRunning,
		BuildsCompletedTotal,
		BuildsFailedTotal,
		BuildsCancelledTotal,
		QueueDepthGauge,
	)
}
