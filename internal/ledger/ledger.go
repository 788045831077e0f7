// Package ledger implements the per-organization prepaid credit ledger. One
// balance is shared by every user of an org; the spend protocol is a single
// conditional UPDATE so concurrent deductions can never overdraw it.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"bursar/internal/pool"
	"bursar/internal/pricing"
	"bursar/pkg/billing"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// ThresholdNotifier receives usage threshold alerts (50/80/95 percent of the
// period limit). Implementations must not block.
type ThresholdNotifier interface {
	NotifyUsageThreshold(orgID string, percent int, usedCents, limitCents int64)
}

// Ledger is the org credit ledger. Pool forwarding happens after the org
// transaction commits; a pool write failure is logged, never unwound.
type Ledger struct {
	db       *sql.DB
	logger   logging.Logger
	pool     *pool.Ledger
	prices   *pricing.Table
	notifier ThresholdNotifier
}

// NewLedger creates the org credit ledger.
func NewLedger(db *sql.DB, logger logging.Logger, poolLedger *pool.Ledger, prices *pricing.Table, notifier ThresholdNotifier) *Ledger {
	return &Ledger{
		db:       db,
		logger:   logger,
		pool:     poolLedger,
		prices:   prices,
		notifier: notifier,
	}
}

// BalanceResult reports a balance lookup that may have created the balance.
// GrantRejected is set when the balance was just created but the pool could
// not fund the free-tier grant; the org then starts with zero remaining
// credit and needs a purchase before metered access.
type BalanceResult struct {
	Balance       *models.OrgCreditBalance
	Created       bool
	GrantRejected bool
}

// Deduction reports a successful credit deduction.
type Deduction struct {
	CostCents      int64
	RemainingCents int64
	BYOK           bool
}

const balanceColumns = `org_id, org_name, purchased_cents, remaining_cents, used_cents, expired_cents,
	billing_period_start, billing_period_end, period_limit_cents, period_used_cents,
	tier_name, tier_monthly_price_cents, is_byok, alert50_sent, alert80_sent, alert95_sent,
	created_at, updated_at`

func scanBalance(row *sql.Row) (*models.OrgCreditBalance, error) {
	b := &models.OrgCreditBalance{}
	err := row.Scan(
		&b.OrgID, &b.OrgName, &b.PurchasedCents, &b.RemainingCents, &b.UsedCents, &b.ExpiredCents,
		&b.BillingPeriodStart, &b.BillingPeriodEnd, &b.PeriodLimitCents, &b.PeriodUsedCents,
		&b.TierName, &b.TierMonthlyPriceCents, &b.IsBYOK, &b.Alert50Sent, &b.Alert80Sent, &b.Alert95Sent,
		&b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, billing.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credit balance: %w", err)
	}
	return b, nil
}

// GetBalance returns the org's balance or billing.ErrBalanceNotFound.
func (l *Ledger) GetBalance(ctx context.Context, orgID string) (*models.OrgCreditBalance, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM bursar.org_credit_balances
		WHERE org_id = $1`, orgID)
	return scanBalance(row)
}

// ensureRow inserts the balance row if it does not exist yet. Returns whether
// this call created it. No free-tier grant happens here.
func (l *Ledger) ensureRow(ctx context.Context, orgID, orgName string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO bursar.org_credit_balances
			(org_id, org_name, billing_period_start, billing_period_end)
		VALUES ($1, $2, NOW(), NOW() + INTERVAL '1 month')
		ON CONFLICT (org_id) DO NOTHING`,
		orgID, orgName)
	if err != nil {
		return false, fmt.Errorf("failed to create credit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check balance creation: %w", err)
	}
	return n == 1, nil
}

// GetOrCreateBalance returns the org's balance, creating it on first metered
// contact. Creation requests a free-tier grant from the pool; the grant is
// funded or rejected, never partial, and a rejection is surfaced to the
// caller rather than retried.
func (l *Ledger) GetOrCreateBalance(ctx context.Context, orgID, orgName string) (*BalanceResult, error) {
	created, err := l.ensureRow(ctx, orgID, orgName)
	if err != nil {
		return nil, err
	}
	if !created {
		b, err := l.GetBalance(ctx, orgID)
		if err != nil {
			return nil, err
		}
		return &BalanceResult{Balance: b}, nil
	}

	grant, err := l.pool.GrantFreeTierCredits(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if grant.Granted {
		if _, err := l.applyCredit(ctx, orgID, grant.AmountCents, models.TxBonus, "free tier grant"); err != nil {
			// The pool was already debited; this must not stay silent.
			l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to apply granted free tier credit")
			return nil, err
		}
	}

	b, err := l.GetBalance(ctx, orgID)
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logging.Fields{
		"org_id":  orgID,
		"granted": grant.Granted,
	}).Info("Created org credit balance")

	return &BalanceResult{Balance: b, Created: true, GrantRejected: !grant.Granted}, nil
}

// HasCredits reports whether the org can make a metered call. BYOK orgs are
// always allowed and report remaining = -1 (unmetered sentinel). The balance
// is created lazily, so a brand-new org gets its grant here.
func (l *Ledger) HasCredits(ctx context.Context, orgID string) (bool, int64, bool, error) {
	res, err := l.GetOrCreateBalance(ctx, orgID, "")
	if err != nil {
		return false, 0, false, err
	}
	b := res.Balance
	if b.IsBYOK {
		return true, -1, true, nil
	}
	return b.RemainingCents > 0, b.RemainingCents, false, nil
}

// insertTransaction appends one org ledger event inside the caller's
// transaction. Nil pointers become NULLs.
func (l *Ledger) insertTransaction(ctx context.Context, tx *sql.Tx, orgID, txType string, amountCents, balanceAfterCents int64, usage *models.UsageRecord, uc *models.UsageContext, description string) error {
	var inputTokens, outputTokens, ticketNumber *int64
	var modelID, provider, conversationID, ticketID *string
	if usage != nil {
		inputTokens = &usage.InputTokens
		outputTokens = &usage.OutputTokens
		modelID = &usage.ModelID
		provider = &usage.Provider
	}
	if uc != nil {
		conversationID = uc.ConversationID
		ticketID = uc.TicketID
		ticketNumber = uc.TicketNumber
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.org_credit_transactions
			(org_id, transaction_type, amount_cents, balance_after_cents,
			 conversation_id, ticket_id, ticket_number,
			 input_tokens, output_tokens, model_id, provider, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		orgID, txType, amountCents, balanceAfterCents,
		conversationID, ticketID, ticketNumber,
		inputTokens, outputTokens, modelID, provider, description)
	if err != nil {
		return fmt.Errorf("failed to record credit transaction: %w", err)
	}
	return nil
}

// DeductCredits prices the reported usage and deducts it from the org's
// balance. The check and the decrement are one conditional UPDATE: either
// the whole cost is covered or nothing changes and ErrInsufficientCredits
// is returned. BYOK orgs get their usage tracked at zero cost.
func (l *Ledger) DeductCredits(ctx context.Context, orgID string, usage models.UsageRecord, uc models.UsageContext) (*Deduction, error) {
	res, err := l.GetOrCreateBalance(ctx, orgID, "")
	if err != nil {
		return nil, err
	}
	b := res.Balance

	cost := l.prices.Cost(usage.ModelID, usage.InputTokens, usage.OutputTokens)

	if b.IsBYOK || cost == 0 {
		if err := l.trackZeroCostUsage(ctx, orgID, b.RemainingCents, &usage, &uc, b.IsBYOK); err != nil {
			return nil, err
		}
		return &Deduction{CostCents: 0, RemainingCents: b.RemainingCents, BYOK: b.IsBYOK}, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		remaining, periodUsed, periodLimit int64
		tierName                           string
		sent50, sent80, sent95             bool
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.org_credit_balances
		SET remaining_cents = remaining_cents - $1,
		    used_cents = used_cents + $1,
		    period_used_cents = period_used_cents + $1,
		    updated_at = NOW()
		WHERE org_id = $2 AND is_byok = FALSE AND remaining_cents >= $1
		RETURNING remaining_cents, period_used_cents, period_limit_cents, tier_name,
		          alert50_sent, alert80_sent, alert95_sent`,
		cost, orgID).Scan(&remaining, &periodUsed, &periodLimit, &tierName, &sent50, &sent80, &sent95)
	if err == sql.ErrNoRows {
		return nil, billing.ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deduct credits: %w", err)
	}

	if err := l.insertTransaction(ctx, tx, orgID, models.TxUsage, -cost, remaining, &usage, &uc, "metered usage"); err != nil {
		return nil, err
	}

	alerts, err := l.markThresholds(ctx, tx, orgID, periodUsed, periodLimit, sent50, sent80, sent95)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deduction: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"org_id":          orgID,
		"cost_cents":      cost,
		"remaining_cents": remaining,
		"model_id":        usage.ModelID,
	}).Info("Deducted credits")

	// Forward to the pool outside the org transaction. Failures are logged,
	// not unwound: the deduction itself stands.
	if err := l.pool.RecordConsumption(ctx, orgID, cost); err != nil {
		l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to forward consumption to pool")
	}
	if tierName == "free" {
		if err := l.pool.RecordFreeTierUsage(ctx, orgID, cost); err != nil {
			l.logger.WithError(err).WithField("org_id", orgID).Error("Failed to record free tier usage")
		}
	}

	if l.notifier != nil {
		for _, pct := range alerts {
			l.notifier.NotifyUsageThreshold(orgID, pct, periodUsed, periodLimit)
		}
	}

	return &Deduction{CostCents: cost, RemainingCents: remaining}, nil
}

// trackZeroCostUsage appends a zero-amount usage event so BYOK and free
// invocations still show up in the transaction history.
func (l *Ledger) trackZeroCostUsage(ctx context.Context, orgID string, remaining int64, usage *models.UsageRecord, uc *models.UsageContext, byok bool) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	description := "metered usage (zero cost)"
	if byok {
		description = "BYOK usage (tracked, not billed)"
	}
	if err := l.insertTransaction(ctx, tx, orgID, models.TxUsage, 0, remaining, usage, uc, description); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage tracking: %w", err)
	}
	return nil
}

// usageThresholds are the period-usage alert levels in percent.
var usageThresholds = []int{50, 80, 95}

// crossedThresholds returns the alert levels newly crossed by the current
// period usage.
func crossedThresholds(usedCents, limitCents int64, sent50, sent80, sent95 bool) []int {
	if limitCents <= 0 {
		return nil
	}
	pct := usedCents * 100 / limitCents

	sent := map[int]bool{50: sent50, 80: sent80, 95: sent95}
	var crossed []int
	for _, threshold := range usageThresholds {
		if pct >= int64(threshold) && !sent[threshold] {
			crossed = append(crossed, threshold)
		}
	}
	return crossed
}

// markThresholds persists newly crossed alert flags inside the caller's
// transaction and returns the levels to notify after commit.
func (l *Ledger) markThresholds(ctx context.Context, tx *sql.Tx, orgID string, usedCents, limitCents int64, sent50, sent80, sent95 bool) ([]int, error) {
	crossed := crossedThresholds(usedCents, limitCents, sent50, sent80, sent95)
	if len(crossed) == 0 {
		return nil, nil
	}

	for _, threshold := range crossed {
		switch threshold {
		case 50:
			sent50 = true
		case 80:
			sent80 = true
		case 95:
			sent95 = true
		}
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE bursar.org_credit_balances
		SET alert50_sent = $1, alert80_sent = $2, alert95_sent = $3, updated_at = NOW()
		WHERE org_id = $4`,
		sent50, sent80, sent95, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to update alert flags: %w", err)
	}
	return crossed, nil
}

// ListTransactions returns the org's most recent ledger events, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, orgID string, limit int) ([]models.OrgCreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, org_id, transaction_type, amount_cents, balance_after_cents,
		       conversation_id, ticket_id, ticket_number,
		       input_tokens, output_tokens, model_id, provider, description, created_at
		FROM bursar.org_credit_transactions
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.OrgCreditTransaction
	for rows.Next() {
		var t models.OrgCreditTransaction
		if err := rows.Scan(&t.ID, &t.OrgID, &t.TransactionType, &t.AmountCents, &t.BalanceAfterCents,
			&t.ConversationID, &t.TicketID, &t.TicketNumber,
			&t.InputTokens, &t.OutputTokens, &t.ModelID, &t.Provider, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
