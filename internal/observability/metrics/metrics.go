package metrics

import (
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "coldchain_"

	resultSuccess = "success"
	resultError   = "error"

	dispatchResultSent    = "sent"
	dispatchResultFailed  = "failed"
	dispatchResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	readingsDrop   *prometheus.CounterVec

	alertEventsTotal     *prometheus.CounterVec
	alertPromotions      *prometheus.CounterVec
	dispatchTotal        *prometheus.CounterVec
	schedulerTicks       *prometheus.CounterVec
	schedulerTickLatency *prometheus.HistogramVec

	liveSubscribers prometheus.Gauge
	livePublishes   *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by transport and result",
			},
			[]string{"transport", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		readingsDrop = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_dropped_total",
				Help: "Readings accepted but not evaluated, by reason",
			},
			[]string{"reason"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		alertPromotions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_promotions_total",
				Help: "Total alert promotions by target layer",
			},
			[]string{"layer"},
		)
		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_dispatch_total",
				Help: "Notification attempts by channel and result",
			},
			[]string{"channel", "result"},
		)
		schedulerTicks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_ticks_total",
				Help: "Escalation scheduler ticks by result",
			},
			[]string{"result"},
		)
		schedulerTickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scheduler_tick_latency_seconds",
				Help:    "Escalation scheduler tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		liveSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_subscribers",
				Help: "Connected live state subscribers",
			},
		)
		livePublishes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_publishes_total",
				Help: "Live state updates by delivery outcome",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			readingsDrop,
			alertEventsTotal,
			alertPromotions,
			dispatchTotal,
			schedulerTicks,
			schedulerTickLatency,
			liveSubscribers,
			livePublishes,
		)
		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest latency and result.
func ObserveIngest(transport, result string, duration time.Duration) {
	if transport == "" {
		transport = "http"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(transport, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncReadingDropped counts readings that were stored or seen but skipped.
func IncReadingDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if readingsDrop != nil {
		readingsDrop.WithLabelValues(reason).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncAlertPromotion counts a promotion to layer.
func IncAlertPromotion(layer int) {
	if alertPromotions != nil {
		alertPromotions.WithLabelValues(strconv.Itoa(layer)).Inc()
	}
}

// IncDispatch counts one notification attempt.
func IncDispatch(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = dispatchResultSent
	}
	if dispatchTotal != nil {
		dispatchTotal.WithLabelValues(channel, result).Inc()
	}
}

// ObserveSchedulerTick records tick latency and result.
func ObserveSchedulerTick(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if schedulerTicks != nil {
		schedulerTicks.WithLabelValues(result).Inc()
	}
	if schedulerTickLatency != nil {
		schedulerTickLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddLiveSubscribers adjusts the live subscriber gauge.
func AddLiveSubscribers(delta int) {
	if liveSubscribers != nil {
		liveSubscribers.Add(float64(delta))
	}
}

// IncLivePublish counts a live update delivery outcome.
func IncLivePublish(outcome string) {
	if outcome == "" {
		outcome = "delivered"
	}
	if livePublishes != nil {
		livePublishes.WithLabelValues(outcome).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	DispatchSent    = dispatchResultSent
	DispatchFailed  = dispatchResultFailed
	DispatchSkipped = dispatchResultSkipped
)
