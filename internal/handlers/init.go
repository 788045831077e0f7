// Package handlers maps HTTP requests onto the credit ledgers.
package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"bursar/internal/jobs"
	"bursar/internal/ledger"
	"bursar/internal/pool"
	"bursar/pkg/logging"
)

var (
	creditLedger *ledger.Ledger
	poolLedger   *pool.Ledger
	jobManager   *jobs.Manager
	logger       logging.Logger
	metrics      *BursarMetrics
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	Deductions    *prometheus.CounterVec
	Purchases     *prometheus.CounterVec
	ExpirySweeps  *prometheus.CounterVec
	DBQueries     *prometheus.CounterVec
	DBDuration    *prometheus.HistogramVec
	DBConnections *prometheus.GaugeVec
}

// Init initializes the handlers with the ledgers, job manager and logger
func Init(credits *ledger.Ledger, poolL *pool.Ledger, jm *jobs.Manager, log logging.Logger, bursarMetrics *BursarMetrics) {
	creditLedger = credits
	poolLedger = poolL
	jobManager = jm
	logger = log
	metrics = bursarMetrics
}
