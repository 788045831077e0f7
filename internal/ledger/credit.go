package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"bursar/pkg/billing"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// applyCredit adds credit to a balance and appends the matching transaction.
// Purchases, bonuses and free-tier grants all land here; they differ only in
// transaction type and pool forwarding.
func (l *Ledger) applyCredit(ctx context.Context, orgID string, amountCents int64, txType, description string) (int64, error) {
	if amountCents <= 0 {
		return 0, billing.ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var remaining int64
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.org_credit_balances
		SET purchased_cents = purchased_cents + $1,
		    remaining_cents = remaining_cents + $1,
		    period_limit_cents = period_limit_cents + $1,
		    updated_at = NOW()
		WHERE org_id = $2
		RETURNING remaining_cents`,
		amountCents, orgID).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, billing.ErrBalanceNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to apply credit: %w", err)
	}

	if err := l.insertTransaction(ctx, tx, orgID, txType, amountCents, remaining, nil, nil, description); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit credit: %w", err)
	}
	return remaining, nil
}

// RecordPurchase credits a confirmed purchase to the org and forwards the
// funds to the platform pool. Payment itself already happened upstream.
func (l *Ledger) RecordPurchase(ctx context.Context, orgID, orgName string, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, billing.ErrInvalidAmount
	}

	// A purchase may be the org's first contact; it establishes the balance
	// without a free-tier grant.
	if _, err := l.ensureRow(ctx, orgID, orgName); err != nil {
		return 0, err
	}

	remaining, err := l.applyCredit(ctx, orgID, amountCents, models.TxPurchase, "credit purchase")
	if err != nil {
		return 0, err
	}

	l.logger.WithFields(logging.Fields{
		"org_id":          orgID,
		"amount_cents":    amountCents,
		"remaining_cents": remaining,
	}).Info("Recorded credit purchase")

	if err := l.pool.RecordPurchase(ctx, orgID, amountCents); err != nil {
		l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to forward purchase to pool")
	}
	return remaining, nil
}

// RecordBonus credits promotional credit to an existing org. Bonuses are not
// pool purchases and do not touch the pool.
func (l *Ledger) RecordBonus(ctx context.Context, orgID string, amountCents int64, description string) (int64, error) {
	if description == "" {
		description = "bonus credit"
	}
	remaining, err := l.applyCredit(ctx, orgID, amountCents, models.TxBonus, description)
	if err != nil {
		return 0, err
	}

	l.logger.WithFields(logging.Fields{
		"org_id":       orgID,
		"amount_cents": amountCents,
	}).Info("Recorded bonus credit")
	return remaining, nil
}

// EnableBYOK switches the org to bring-your-own-key mode: usage is tracked
// but never deducted. The period limit goes to zero (unmetered) so threshold
// alerts stay silent while BYOK is active. Creates the balance without a
// grant when the org's first contact is BYOK activation.
func (l *Ledger) EnableBYOK(ctx context.Context, orgID, orgName string) error {
	if _, err := l.ensureRow(ctx, orgID, orgName); err != nil {
		return err
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE bursar.org_credit_balances
		SET is_byok = TRUE, tier_name = 'byok', period_limit_cents = 0,
		    alert50_sent = FALSE, alert80_sent = FALSE, alert95_sent = FALSE,
		    updated_at = NOW()
		WHERE org_id = $1 AND is_byok = FALSE`,
		orgID)
	if err != nil {
		return fmt.Errorf("failed to enable BYOK: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check BYOK toggle: %w", err)
	}
	if n == 0 {
		// Already enabled; keep the pool counter honest.
		return nil
	}

	l.logger.WithField("org_id", orgID).Info("Enabled BYOK")

	if err := l.pool.IncrementBYOKOrgs(ctx, 1); err != nil {
		l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to bump BYOK org count")
	}
	return nil
}

// DisableBYOK restores metering for the org. Any credit left from before
// BYOK activation becomes spendable again; the period limit restarts at the
// remaining balance with period usage cleared, so threshold alerts measure
// consumption from the point metering resumed.
func (l *Ledger) DisableBYOK(ctx context.Context, orgID string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE bursar.org_credit_balances
		SET is_byok = FALSE, tier_name = 'free', period_limit_cents = remaining_cents,
		    period_used_cents = 0,
		    alert50_sent = FALSE, alert80_sent = FALSE, alert95_sent = FALSE,
		    updated_at = NOW()
		WHERE org_id = $1 AND is_byok = TRUE`,
		orgID)
	if err != nil {
		return fmt.Errorf("failed to disable BYOK: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check BYOK toggle: %w", err)
	}
	if n == 0 {
		return nil
	}

	l.logger.WithField("org_id", orgID).Info("Disabled BYOK")

	if err := l.pool.IncrementBYOKOrgs(ctx, -1); err != nil {
		l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to bump BYOK org count")
	}
	return nil
}
