package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// nextPeriod rolls a billing period forward from its old end until it covers
// now. Dormant orgs may skip several periods at once.
func nextPeriod(periodEnd, now time.Time) (time.Time, time.Time) {
	start := periodEnd
	end := start.AddDate(0, 1, 0)
	for !end.After(now) {
		start = end
		end = start.AddDate(0, 1, 0)
	}
	return start, end
}

// ExpireBalance converts an org's leftover credit into recorded breakage and
// rolls its billing period forward. Returns the expired amount. A period
// that has not ended yet is left alone.
func (l *Ledger) ExpireBalance(ctx context.Context, orgID string, now time.Time) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		remaining int64
		periodEnd time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT remaining_cents, billing_period_end
		FROM bursar.org_credit_balances
		WHERE org_id = $1
		FOR UPDATE`, orgID).Scan(&remaining, &periodEnd)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock balance for expiry: %w", err)
	}

	if periodEnd.After(now) {
		return 0, nil
	}

	newStart, newEnd := nextPeriod(periodEnd, now)

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.org_credit_balances
		SET expired_cents = expired_cents + $1,
		    remaining_cents = 0,
		    billing_period_start = $2,
		    billing_period_end = $3,
		    period_used_cents = 0,
		    alert50_sent = FALSE,
		    alert80_sent = FALSE,
		    alert95_sent = FALSE,
		    updated_at = NOW()
		WHERE org_id = $4`,
		remaining, newStart, newEnd, orgID); err != nil {
		return 0, fmt.Errorf("failed to expire balance: %w", err)
	}

	if remaining > 0 {
		if err := l.insertTransaction(ctx, tx, orgID, models.TxExpiry, -remaining, 0, nil, nil, "billing period expiry"); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit expiry: %w", err)
	}

	if remaining > 0 {
		l.logger.WithFields(logging.Fields{
			"org_id":        orgID,
			"expired_cents": remaining,
		}).Info("Expired leftover credit")

		if err := l.pool.RecordExpiry(ctx, orgID, remaining); err != nil {
			l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to forward expiry to pool")
		}
	}
	return remaining, nil
}

// SweepExpired expires every metered balance whose billing period has ended.
// BYOK balances are dormant and skipped. Returns how many balances were
// rolled over; individual failures are logged and do not stop the sweep.
func (l *Ledger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT org_id
		FROM bursar.org_credit_balances
		WHERE billing_period_end <= $1 AND is_byok = FALSE`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired balances: %w", err)
	}
	defer rows.Close()

	var orgIDs []string
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return 0, fmt.Errorf("failed to scan expired org: %w", err)
		}
		orgIDs = append(orgIDs, orgID)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, orgID := range orgIDs {
		if _, err := l.ExpireBalance(ctx, orgID, now); err != nil {
			l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to expire balance during sweep")
			continue
		}
		swept++
	}

	if swept > 0 {
		l.logger.WithField("swept", swept).Info("Completed expiry sweep")
	}
	return swept, nil
}
