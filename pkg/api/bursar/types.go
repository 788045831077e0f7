// Package bursar defines the request and response types of the Bursar HTTP API.
package bursar

import "bursar/pkg/models"

// ErrorResponse is the generic error payload
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeductRequest asks the ledger to charge an org for reported token usage
type DeductRequest struct {
	OrgID   string              `json:"org_id" binding:"required"`
	Usage   models.UsageRecord  `json:"usage" binding:"required"`
	Context models.UsageContext `json:"context"`
}

// DeductResponse reports the outcome of a deduction
type DeductResponse struct {
	Success        bool   `json:"success"`
	CostCents      int64  `json:"cost_cents"`
	RemainingCents int64  `json:"remaining_cents"`
	Error          string `json:"error,omitempty"`
}

// CheckRequest asks whether an org currently has metered access
type CheckRequest struct {
	OrgID string `json:"org_id" binding:"required"`
}

// CheckResponse is the read-only credit precheck result. BYOK orgs report
// RemainingCents = -1 (unmetered sentinel).
type CheckResponse struct {
	OK             bool  `json:"ok"`
	RemainingCents int64 `json:"remaining_cents"`
	IsBYOK         bool  `json:"is_byok"`
}

// PurchaseRequest records a confirmed credit purchase from the payment layer
type PurchaseRequest struct {
	OrgID       string `json:"org_id" binding:"required"`
	OrgName     string `json:"org_name"`
	AmountCents int64  `json:"amount_cents" binding:"required"`
}

// BonusRequest credits promotional credit to an existing org
type BonusRequest struct {
	OrgID       string `json:"org_id" binding:"required"`
	AmountCents int64  `json:"amount_cents" binding:"required"`
	Description string `json:"description"`
}

// PurchaseResponse reports the balance after a recorded purchase
type PurchaseResponse struct {
	Success        bool  `json:"success"`
	RemainingCents int64 `json:"remaining_cents"`
}

// BalanceResponse wraps one org balance
type BalanceResponse struct {
	Balance models.OrgCreditBalance `json:"balance"`
	// GrantRejected is set when the balance was just created and the
	// platform pool could not fund the free-tier grant.
	GrantRejected bool `json:"grant_rejected,omitempty"`
}

// TransactionsResponse lists org credit transactions in time order
type TransactionsResponse struct {
	OrgID        string                        `json:"org_id"`
	Transactions []models.OrgCreditTransaction `json:"transactions"`
	Count        int                           `json:"count"`
}

// PoolTransactionsResponse lists platform pool transactions in time order
type PoolTransactionsResponse struct {
	Transactions []models.PlatformPoolTransaction `json:"transactions"`
	Count        int                              `json:"count"`
}

// SweepResponse reports how many balances an expiry sweep rolled over
type SweepResponse struct {
	SweptCount int  `json:"swept_count"`
	Success    bool `json:"success"`
}

// ResetResponse acknowledges a monthly metrics reset
type ResetResponse struct {
	Success bool `json:"success"`
}

// ByokResponse acknowledges a BYOK toggle
type ByokResponse struct {
	OrgID  string `json:"org_id"`
	IsBYOK bool   `json:"is_byok"`
}
