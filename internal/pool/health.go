package pool

import (
	"context"
	"database/sql"
	"fmt"

	"bursar/pkg/models"
)

// Runway banding thresholds in days.
const (
	runwayCriticalBelow = 14
	runwayWarningBelow  = 30
)

// RunwayStatus bands a runway figure as healthy, warning or critical.
func RunwayStatus(runwayDays int64) string {
	switch {
	case runwayDays < runwayCriticalBelow:
		return models.RunwayCritical
	case runwayDays < runwayWarningBelow:
		return models.RunwayWarning
	default:
		return models.RunwayHealthy
	}
}

// GetPoolHealth returns a read-only snapshot of the pool. Before first use
// the pool row does not exist yet and an empty, healthy snapshot is returned.
func (l *Ledger) GetPoolHealth(ctx context.Context) (*models.PoolHealth, error) {
	h := &models.PoolHealth{}
	err := l.db.QueryRowContext(ctx, `
		SELECT pool_balance_cents, runway_days, breakage_rate_percent,
		       total_expired_cents, free_tier_allocated_cents, free_tier_consumed_cents,
		       paying_org_count, free_org_count, byok_org_count,
		       month_start, month_purchased_cents, month_consumed_cents,
		       month_expired_cents, month_free_allocated_cents
		FROM bursar.platform_pool
		WHERE id`).Scan(
		&h.PoolBalanceCents, &h.RunwayDays, &h.BreakageRatePercent,
		&h.TotalExpiredCents, &h.FreeTierAllocatedCents, &h.FreeTierConsumedCents,
		&h.PayingOrgCount, &h.FreeOrgCount, &h.BYOKOrgCount,
		&h.MonthStart, &h.MonthPurchasedCents, &h.MonthConsumedCents,
		&h.MonthExpiredCents, &h.MonthFreeAllocatedCents)
	if err == sql.ErrNoRows {
		h.RunwayDays = RunwayUnlimited
		h.RunwayStatus = models.RunwayHealthy
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pool health: %w", err)
	}

	h.RunwayStatus = RunwayStatus(h.RunwayDays)
	if h.FreeTierAllocatedCents > 0 {
		h.FreeTierUtilizationPercent = float64(h.FreeTierConsumedCents) / float64(h.FreeTierAllocatedCents) * 100
	}
	h.MonthNetCents = h.MonthPurchasedCents - h.MonthConsumedCents - h.MonthFreeAllocatedCents
	return h, nil
}

// ListTransactions returns the most recent pool transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, limit int) ([]models.PlatformPoolTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, transaction_type, amount_cents, pool_balance_after_cents,
		       org_id, description, created_at
		FROM bursar.platform_pool_transactions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.PlatformPoolTransaction
	for rows.Next() {
		var t models.PlatformPoolTransaction
		if err := rows.Scan(&t.ID, &t.TransactionType, &t.AmountCents, &t.PoolBalanceAfterCents,
			&t.OrgID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pool transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
