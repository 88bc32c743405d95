package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricInstancesClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campaign_engine",
		Subsystem: "workflow",
		Name:      "instances_claimed_total",
		Help:      "Instances claimed by the worker pool for execution.",
	})

	metricAdvanceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campaign_engine",
		Subsystem: "workflow",
		Name:      "advance_errors_total",
		Help:      "Instance advances that returned an error.",
	})

	metricInstancesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campaign_engine",
		Subsystem: "workflow",
		Name:      "instances_completed_total",
		Help:      "Instances that reached the completed state.",
	})

	metricScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "campaign_engine",
		Subsystem: "workflow",
		Name:      "scan_duration_seconds",
		Help:      "Duration of one eligibility scan including dispatch.",
		Buckets:   prometheus.DefBuckets,
	})
)
