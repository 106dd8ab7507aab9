package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "alerts_open",
			Help: "Unresolved alerts",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM alerts WHERE status <> 'RESOLVED'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "devices_offline",
			Help: "Devices currently marked offline",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM devices WHERE status = 'OFFLINE'")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.String("query", query), zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
