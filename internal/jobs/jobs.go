// Package jobs schedules the ledger's recurring maintenance: the hourly
// expiry sweep and the monthly pool metrics reset.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"bursar/internal/ledger"
	"bursar/internal/pool"
	"bursar/pkg/config"
	"bursar/pkg/logging"
)

// Manager owns the cron scheduler. Both jobs are also exposed as methods so
// operators can trigger them over HTTP.
type Manager struct {
	ledger *ledger.Ledger
	pool   *pool.Ledger
	logger logging.Logger
	cron   *cron.Cron
}

// NewManager creates the job manager. Nothing runs until Start.
func NewManager(creditLedger *ledger.Ledger, poolLedger *pool.Ledger, logger logging.Logger) *Manager {
	return &Manager{
		ledger: creditLedger,
		pool:   poolLedger,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start registers the schedules and starts the scheduler. Schedules are
// overridable via EXPIRY_SWEEP_SCHEDULE and MONTHLY_RESET_SCHEDULE.
func (m *Manager) Start() error {
	sweepSchedule := config.GetEnv("EXPIRY_SWEEP_SCHEDULE", "0 * * * *")
	resetSchedule := config.GetEnv("MONTHLY_RESET_SCHEDULE", "0 0 1 * *")

	if _, err := m.cron.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := m.RunExpirySweep(ctx); err != nil {
			m.logger.WithError(err).Error("Expiry sweep failed")
		}
	}); err != nil {
		return err
	}

	if _, err := m.cron.AddFunc(resetSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.RunMonthlyReset(ctx); err != nil {
			m.logger.WithError(err).Error("Monthly reset failed")
		}
	}); err != nil {
		return err
	}

	m.cron.Start()
	m.logger.WithFields(logging.Fields{
		"expiry_sweep":  sweepSchedule,
		"monthly_reset": resetSchedule,
	}).Info("Started background jobs")
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("Stopped background jobs")
}

// Entries returns the number of registered schedules.
func (m *Manager) Entries() int {
	return len(m.cron.Entries())
}

// RunExpirySweep expires every balance whose billing period has ended.
func (m *Manager) RunExpirySweep(ctx context.Context) (int, error) {
	return m.ledger.SweepExpired(ctx, time.Now())
}

// RunMonthlyReset zeroes the pool's rolling monthly counters.
func (m *Manager) RunMonthlyReset(ctx context.Context) error {
	return m.pool.ResetMonthlyMetrics(ctx)
}
