package models

import "time"

// Transaction types recorded on an org credit balance.
const (
	TxPurchase = "purchase"
	TxUsage    = "usage"
	TxBonus    = "bonus"
	TxExpiry   = "expiry"
)

// Transaction types recorded on the platform pool.
const (
	PoolTxPurchase    = "purchase"
	PoolTxConsumption = "consumption"
	PoolTxExpiry      = "expiry"
	PoolTxFreeGrant   = "free_grant"
)

// OrgCreditBalance is the prepaid credit balance shared by all users of one
// organization. All monetary amounts are integer cents.
type OrgCreditBalance struct {
	OrgID                 string     `json:"org_id"`
	OrgName               string     `json:"org_name"`
	PurchasedCents        int64      `json:"purchased_cents"`
	RemainingCents        int64      `json:"remaining_cents"`
	UsedCents             int64      `json:"used_cents"`
	ExpiredCents          int64      `json:"expired_cents"`
	BillingPeriodStart    time.Time  `json:"billing_period_start"`
	BillingPeriodEnd      time.Time  `json:"billing_period_end"`
	PeriodLimitCents      int64      `json:"period_limit_cents"`
	PeriodUsedCents       int64      `json:"period_used_cents"`
	TierName              string     `json:"tier_name"`
	TierMonthlyPriceCents *int64     `json:"tier_monthly_price_cents,omitempty"`
	IsBYOK                bool       `json:"is_byok"`
	Alert50Sent           bool       `json:"alert50_sent"`
	Alert80Sent           bool       `json:"alert80_sent"`
	Alert95Sent           bool       `json:"alert95_sent"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// OrgCreditTransaction is one append-only economic event on a balance.
type OrgCreditTransaction struct {
	ID                string    `json:"id"`
	OrgID             string    `json:"org_id"`
	TransactionType   string    `json:"transaction_type"`
	AmountCents       int64     `json:"amount_cents"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
	ConversationID    *string   `json:"conversation_id,omitempty"`
	TicketID          *string   `json:"ticket_id,omitempty"`
	TicketNumber      *int64    `json:"ticket_number,omitempty"`
	InputTokens       *int64    `json:"input_tokens,omitempty"`
	OutputTokens      *int64    `json:"output_tokens,omitempty"`
	ModelID           *string   `json:"model_id,omitempty"`
	Provider          *string   `json:"provider,omitempty"`
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"created_at"`
}

// PlatformPoolTransaction is one append-only event on the pool.
type PlatformPoolTransaction struct {
	ID                    string    `json:"id"`
	TransactionType       string    `json:"transaction_type"`
	AmountCents           int64     `json:"amount_cents"`
	PoolBalanceAfterCents int64     `json:"pool_balance_after_cents"`
	OrgID                 *string   `json:"org_id,omitempty"`
	Description           string    `json:"description"`
	CreatedAt             time.Time `json:"created_at"`
}

// UsageRecord is the token usage reported by the AI-invocation layer.
type UsageRecord struct {
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	ModelID      string `json:"model_id"`
	Provider     string `json:"provider"`
}

// UsageContext links a deduction back to the work item that caused it.
type UsageContext struct {
	ConversationID *string `json:"conversation_id,omitempty"`
	TicketID       *string `json:"ticket_id,omitempty"`
	TicketNumber   *int64  `json:"ticket_number,omitempty"`
}

// Runway health bands.
const (
	RunwayHealthy  = "healthy"
	RunwayWarning  = "warning"
	RunwayCritical = "critical"
)

// PoolHealth is a read-only reporting snapshot of the platform pool.
type PoolHealth struct {
	PoolBalanceCents           int64     `json:"pool_balance_cents"`
	RunwayDays                 int64     `json:"runway_days"`
	RunwayStatus               string    `json:"runway_status"`
	BreakageRatePercent        float64   `json:"breakage_rate_percent"`
	TotalExpiredCents          int64     `json:"total_expired_cents"`
	FreeTierAllocatedCents     int64     `json:"free_tier_allocated_cents"`
	FreeTierConsumedCents      int64     `json:"free_tier_consumed_cents"`
	FreeTierUtilizationPercent float64   `json:"free_tier_utilization_percent"`
	PayingOrgCount             int64     `json:"paying_org_count"`
	FreeOrgCount               int64     `json:"free_org_count"`
	BYOKOrgCount               int64     `json:"byok_org_count"`
	MonthStart                 time.Time `json:"month_start"`
	MonthPurchasedCents        int64     `json:"month_purchased_cents"`
	MonthConsumedCents         int64     `json:"month_consumed_cents"`
	MonthExpiredCents          int64     `json:"month_expired_cents"`
	MonthFreeAllocatedCents    int64     `json:"month_free_allocated_cents"`
	MonthNetCents              int64     `json:"month_net_cents"`
}
