// Package pool implements the platform-wide funding pool: the singleton
// aggregate fed by every org ledger event. It tracks lifetime and monthly
// totals, computes breakage and runway, and funds free-tier grants.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"bursar/pkg/billing"
	"bursar/pkg/config"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// RunwayUnlimited is the runway sentinel reported when the free tier has no
// measurable daily burn.
const RunwayUnlimited = 9999

// Notifier receives low-runway alerts. Implementations must not block.
type Notifier interface {
	NotifyLowRunway(balanceCents, runwayDays int64)
}

// Grant is the outcome of a free-tier grant request. Grants are funded or
// rejected atomically; a rejection leaves the pool untouched.
type Grant struct {
	Granted     bool
	AmountCents int64
	Reason      string
}

// Ledger is the platform pool ledger. All mutations run in single
// transactions against the singleton pool row, whose row lock serializes
// concurrent writers.
type Ledger struct {
	db            *sql.DB
	logger        logging.Logger
	notifier      Notifier
	grantCents    int64
	lowRunwayDays int64
}

// NewLedger creates the pool ledger. The grant size and low-runway threshold
// come from FREE_TIER_GRANT_CENTS and LOW_RUNWAY_ALERT_DAYS.
func NewLedger(db *sql.DB, logger logging.Logger, notifier Notifier) *Ledger {
	return &Ledger{
		db:            db,
		logger:        logger,
		notifier:      notifier,
		grantCents:    config.GetEnvInt64("FREE_TIER_GRANT_CENTS", 500),
		lowRunwayDays: config.GetEnvInt64("LOW_RUNWAY_ALERT_DAYS", 30),
	}
}

// GrantCents returns the configured free-tier grant size.
func (l *Ledger) GrantCents() int64 {
	return l.grantCents
}

// ensurePool lazily creates the singleton pool row. The BOOLEAN primary key
// with a CHECK constraint admits exactly one row, so this is a no-op after
// first use.
func (l *Ledger) ensurePool(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.platform_pool (id) VALUES (TRUE)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to ensure platform pool: %w", err)
	}
	return nil
}

func (l *Ledger) insertPoolTransaction(ctx context.Context, tx *sql.Tx, txType string, amountCents, balanceAfterCents int64, orgID, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.platform_pool_transactions
			(transaction_type, amount_cents, pool_balance_after_cents, org_id, description)
		VALUES ($1, $2, $3, $4, $5)`,
		txType, amountCents, balanceAfterCents, orgID, description)
	if err != nil {
		return fmt.Errorf("failed to record pool transaction: %w", err)
	}
	return nil
}

// ComputeRunway returns how many days the pool can keep funding free-tier
// grants at the current month's average daily free-tier burn.
func ComputeRunway(balanceCents, monthFreeAllocatedCents int64, monthStart, now time.Time) int64 {
	daysElapsed := int64(math.Ceil(now.Sub(monthStart).Hours() / 24))
	if daysElapsed < 1 {
		daysElapsed = 1
	}

	avgDailyCents := float64(monthFreeAllocatedCents) / float64(daysElapsed)
	if avgDailyCents <= 0 {
		return RunwayUnlimited
	}

	runway := int64(math.Floor(float64(balanceCents) / avgDailyCents))
	if runway < 0 {
		runway = 0
	}
	if runway > RunwayUnlimited {
		runway = RunwayUnlimited
	}
	return runway
}

// ComputeBreakage returns the lifetime breakage rate. With nothing purchased
// the ratio is undefined and the prior value is kept.
func ComputeBreakage(totalPurchasedCents, totalExpiredCents int64, prior float64) float64 {
	if totalPurchasedCents <= 0 {
		return prior
	}
	return float64(totalExpiredCents) / float64(totalPurchasedCents) * 100
}

// updateRunway recomputes runway inside the caller's transaction and manages
// the low-runway alert flag. Returns whether an alert should fire after
// commit.
func (l *Ledger) updateRunway(ctx context.Context, tx *sql.Tx, balanceCents, monthFreeAllocatedCents int64, monthStart time.Time, alertSent bool) (int64, bool, error) {
	runway := ComputeRunway(balanceCents, monthFreeAllocatedCents, monthStart, time.Now())

	notify := false
	sent := alertSent
	if runway < l.lowRunwayDays {
		if !alertSent {
			notify = true
			sent = true
		}
	} else {
		// Re-arm the alert once runway recovers.
		sent = false
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE bursar.platform_pool
		SET runway_days = $1, low_runway_alert_sent = $2, updated_at = NOW()
		WHERE id`,
		runway, sent)
	if err != nil {
		return 0, false, fmt.Errorf("failed to update runway: %w", err)
	}
	return runway, notify, nil
}

// RecordPurchase adds purchased credit to the pool and recomputes runway.
func (l *Ledger) RecordPurchase(ctx context.Context, orgID string, amountCents int64) error {
	if amountCents <= 0 {
		return billing.ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := l.ensurePool(ctx, tx); err != nil {
		return err
	}

	var (
		balance    int64
		monthFree  int64
		monthStart time.Time
		alertSent  bool
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.platform_pool
		SET total_purchased_cents = total_purchased_cents + $1,
		    pool_balance_cents = pool_balance_cents + $1,
		    month_purchased_cents = month_purchased_cents + $1,
		    paying_org_count = paying_org_count + 1,
		    updated_at = NOW()
		WHERE id
		RETURNING pool_balance_cents, month_free_allocated_cents, month_start, low_runway_alert_sent`,
		amountCents).Scan(&balance, &monthFree, &monthStart, &alertSent)
	if err != nil {
		return fmt.Errorf("failed to apply purchase to pool: %w", err)
	}

	if err := l.insertPoolTransaction(ctx, tx, models.PoolTxPurchase, amountCents, balance, orgID, "credit purchase"); err != nil {
		return err
	}

	runway, notify, err := l.updateRunway(ctx, tx, balance, monthFree, monthStart, alertSent)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pool purchase: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"org_id":       orgID,
		"amount_cents": amountCents,
		"pool_balance": balance,
		"runway_days":  runway,
	}).Info("Recorded pool purchase")

	if notify && l.notifier != nil {
		l.notifier.NotifyLowRunway(balance, runway)
	}
	return nil
}

// RecordConsumption deducts consumed credit from the pool balance.
func (l *Ledger) RecordConsumption(ctx context.Context, orgID string, amountCents int64) error {
	if amountCents < 0 {
		return billing.ErrInvalidAmount
	}
	if amountCents == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := l.ensurePool(ctx, tx); err != nil {
		return err
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.platform_pool
		SET total_consumed_cents = total_consumed_cents + $1,
		    pool_balance_cents = pool_balance_cents - $1,
		    month_consumed_cents = month_consumed_cents + $1,
		    updated_at = NOW()
		WHERE id
		RETURNING pool_balance_cents`,
		amountCents).Scan(&balance)
	if err != nil {
		return fmt.Errorf("failed to apply consumption to pool: %w", err)
	}

	if err := l.insertPoolTransaction(ctx, tx, models.PoolTxConsumption, -amountCents, balance, orgID, "usage consumption"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pool consumption: %w", err)
	}
	return nil
}

// RecordExpiry reclassifies already-pooled credit as breakage. The pool
// balance does not move: expiry labels money, it does not recover it. The
// appended transaction is positive with the unchanged balance as snapshot.
func (l *Ledger) RecordExpiry(ctx context.Context, orgID string, amountCents int64) error {
	if amountCents <= 0 {
		return billing.ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := l.ensurePool(ctx, tx); err != nil {
		return err
	}

	var (
		balance        int64
		totalPurchased int64
		totalExpired   int64
		priorBreakage  float64
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.platform_pool
		SET total_expired_cents = total_expired_cents + $1,
		    month_expired_cents = month_expired_cents + $1,
		    updated_at = NOW()
		WHERE id
		RETURNING pool_balance_cents, total_purchased_cents, total_expired_cents, breakage_rate_percent`,
		amountCents).Scan(&balance, &totalPurchased, &totalExpired, &priorBreakage)
	if err != nil {
		return fmt.Errorf("failed to apply expiry to pool: %w", err)
	}

	breakage := ComputeBreakage(totalPurchased, totalExpired, priorBreakage)
	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.platform_pool
		SET breakage_rate_percent = $1, updated_at = NOW()
		WHERE id`,
		breakage); err != nil {
		return fmt.Errorf("failed to update breakage rate: %w", err)
	}

	if err := l.insertPoolTransaction(ctx, tx, models.PoolTxExpiry, amountCents, balance, orgID, "expired credits retained as breakage"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pool expiry: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"org_id":        orgID,
		"amount_cents":  amountCents,
		"breakage_rate": breakage,
	}).Info("Recorded credit expiry")
	return nil
}

// GrantFreeTierCredits funds a free-tier grant from the pool. The grant is
// funded or rejected in one conditional update; a rejected grant changes
// nothing.
func (l *Ledger) GrantFreeTierCredits(ctx context.Context, orgID string) (*Grant, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := l.ensurePool(ctx, tx); err != nil {
		return nil, err
	}

	var (
		balance    int64
		monthFree  int64
		monthStart time.Time
		alertSent  bool
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.platform_pool
		SET pool_balance_cents = pool_balance_cents - $1,
		    free_tier_allocated_cents = free_tier_allocated_cents + $1,
		    month_free_allocated_cents = month_free_allocated_cents + $1,
		    free_org_count = free_org_count + 1,
		    updated_at = NOW()
		WHERE id AND pool_balance_cents >= $1
		RETURNING pool_balance_cents, month_free_allocated_cents, month_start, low_runway_alert_sent`,
		l.grantCents).Scan(&balance, &monthFree, &monthStart, &alertSent)
	if err == sql.ErrNoRows {
		// Pool cannot cover the grant. Commit so the lazily created pool
		// row survives, but grant nothing.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit rejected grant: %w", err)
		}
		l.logger.WithFields(logging.Fields{
			"org_id":      orgID,
			"grant_cents": l.grantCents,
		}).Warn("Free tier grant rejected, pool underfunded")
		return &Grant{Granted: false, Reason: billing.ErrPoolUnderfunded.Error()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply free tier grant: %w", err)
	}

	if err := l.insertPoolTransaction(ctx, tx, models.PoolTxFreeGrant, -l.grantCents, balance, orgID, "free tier grant"); err != nil {
		return nil, err
	}

	runway, notify, err := l.updateRunway(ctx, tx, balance, monthFree, monthStart, alertSent)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit free tier grant: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"org_id":      orgID,
		"grant_cents": l.grantCents,
		"runway_days": runway,
	}).Info("Granted free tier credits")

	if notify && l.notifier != nil {
		l.notifier.NotifyLowRunway(balance, runway)
	}
	return &Grant{Granted: true, AmountCents: l.grantCents}, nil
}

// RecordFreeTierUsage bumps the free-tier consumption counter. Informational
// only: the pool balance was already debited by RecordConsumption.
func (l *Ledger) RecordFreeTierUsage(ctx context.Context, orgID string, amountCents int64) error {
	if amountCents <= 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := l.ensurePool(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.platform_pool
		SET free_tier_consumed_cents = free_tier_consumed_cents + $1,
		    updated_at = NOW()
		WHERE id`,
		amountCents); err != nil {
		return fmt.Errorf("failed to record free tier usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit free tier usage: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"org_id":       orgID,
		"amount_cents": amountCents,
	}).Debug("Recorded free tier usage")
	return nil
}

// IncrementBYOKOrgs adjusts the BYOK organization counter by delta.
func (l *Ledger) IncrementBYOKOrgs(ctx context.Context, delta int64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := l.ensurePool(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.platform_pool
		SET byok_org_count = GREATEST(byok_org_count + $1, 0),
		    updated_at = NOW()
		WHERE id`,
		delta); err != nil {
		return fmt.Errorf("failed to update BYOK org count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit BYOK org count: %w", err)
	}
	return nil
}

// ResetMonthlyMetrics starts a new rolling month: month_start moves to the
// top of the current month and the four monthly counters go to zero.
// Lifetime totals are untouched, so repeated calls within one cycle are
// harmless.
func (l *Ledger) ResetMonthlyMetrics(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := l.ensurePool(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.platform_pool
		SET month_start = date_trunc('month', NOW()),
		    month_purchased_cents = 0,
		    month_consumed_cents = 0,
		    month_expired_cents = 0,
		    month_free_allocated_cents = 0,
		    updated_at = NOW()
		WHERE id`); err != nil {
		return fmt.Errorf("failed to reset monthly metrics: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit monthly reset: %w", err)
	}

	l.logger.Info("Reset monthly pool metrics")
	return nil
}
