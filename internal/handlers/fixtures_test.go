package handlers

import (
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"bursar/pkg/models"
)

// balanceFixture builds a full balance row for sqlmock.
func balanceFixture(orgID string, remaining int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"org_id", "org_name", "purchased_cents", "remaining_cents", "used_cents", "expired_cents",
		"billing_period_start", "billing_period_end", "period_limit_cents", "period_used_cents",
		"tier_name", "tier_monthly_price_cents", "is_byok", "alert50_sent", "alert80_sent", "alert95_sent",
		"created_at", "updated_at",
	}).AddRow(
		orgID, "acme", int64(1000), remaining, int64(0), int64(0),
		now.Add(-24*time.Hour), now.Add(29*24*time.Hour), int64(1000), int64(0),
		"free", nil, false, false, false, false, now, now)
}

func modelUsage() models.UsageRecord {
	return models.UsageRecord{
		InputTokens:  1_000_000,
		OutputTokens: 0,
		ModelID:      "gpt-4o",
		Provider:     "openai",
	}
}
