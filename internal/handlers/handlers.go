package handlers

import (
	"errors"
	"net/http"
	"strconv"

	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/billing"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
)

// requireOrgAccess allows service callers, admins, and the org's own members.
func requireOrgAccess(c middleware.Context, orgID string) bool {
	if c.GetString("auth_type") == "service" || c.GetString("role") == "admin" {
		return true
	}
	if c.GetString("org_id") == orgID {
		return true
	}
	c.JSON(http.StatusForbidden, bursarapi.ErrorResponse{Error: "Access denied"})
	return false
}

// DeductCredits charges an org for reported token usage. The check and the
// charge are atomic; an uncovered cost returns 402 with nothing deducted.
func DeductCredits(c middleware.Context) {
	var req bursarapi.DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	d, err := creditLedger.DeductCredits(c.Request.Context(), req.OrgID, req.Usage, req.Context)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInsufficientCredits):
			metrics.Deductions.WithLabelValues("insufficient").Inc()
			c.JSON(http.StatusPaymentRequired, bursarapi.DeductResponse{
				Success: false,
				Error:   err.Error(),
			})
		default:
			metrics.Deductions.WithLabelValues("error").Inc()
			logger.WithFields(logging.Fields{
				"error":  err,
				"org_id": req.OrgID,
			}).Error("Failed to deduct credits")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to deduct credits"})
		}
		return
	}

	metrics.Deductions.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, bursarapi.DeductResponse{
		Success:        true,
		CostCents:      d.CostCents,
		RemainingCents: d.RemainingCents,
	})
}

// CheckCredits is the read-only precheck before invoking a model.
func CheckCredits(c middleware.Context) {
	var req bursarapi.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	ok, remaining, byok, err := creditLedger.HasCredits(c.Request.Context(), req.OrgID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":  err,
			"org_id": req.OrgID,
		}).Error("Failed to check credits")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to check credits"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.CheckResponse{
		OK:             ok,
		RemainingCents: remaining,
		IsBYOK:         byok,
	})
}

// RecordPurchase credits a confirmed purchase. Payment already happened in
// the payment layer; this only moves ledger state.
func RecordPurchase(c middleware.Context) {
	var req bursarapi.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	remaining, err := creditLedger.RecordPurchase(c.Request.Context(), req.OrgID, req.OrgName, req.AmountCents)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidAmount) {
			metrics.Purchases.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
			return
		}
		metrics.Purchases.WithLabelValues("error").Inc()
		logger.WithFields(logging.Fields{
			"error":  err,
			"org_id": req.OrgID,
		}).Error("Failed to record purchase")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to record purchase"})
		return
	}

	metrics.Purchases.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, bursarapi.PurchaseResponse{
		Success:        true,
		RemainingCents: remaining,
	})
}

// RecordBonus credits promotional credit to an existing org.
func RecordBonus(c middleware.Context) {
	var req bursarapi.BonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	remaining, err := creditLedger.RecordBonus(c.Request.Context(), req.OrgID, req.AmountCents, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		case errors.Is(err, billing.ErrBalanceNotFound):
			c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: err.Error()})
		default:
			logger.WithFields(logging.Fields{
				"error":  err,
				"org_id": req.OrgID,
			}).Error("Failed to record bonus")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to record bonus"})
		}
		return
	}

	c.JSON(http.StatusOK, bursarapi.PurchaseResponse{
		Success:        true,
		RemainingCents: remaining,
	})
}

// GetBalance returns an org's balance, creating it on first contact.
func GetBalance(c middleware.Context) {
	orgID := c.Param("org_id")
	if !requireOrgAccess(c, orgID) {
		return
	}

	res, err := creditLedger.GetOrCreateBalance(c.Request.Context(), orgID, "")
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":  err,
			"org_id": orgID,
		}).Error("Failed to get balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.BalanceResponse{
		Balance:       *res.Balance,
		GrantRejected: res.GrantRejected,
	})
}

// GetTransactions lists an org's ledger events, newest first.
func GetTransactions(c middleware.Context) {
	orgID := c.Param("org_id")
	if !requireOrgAccess(c, orgID) {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	txs, err := creditLedger.ListTransactions(c.Request.Context(), orgID, limit)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":  err,
			"org_id": orgID,
		}).Error("Failed to list transactions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list transactions"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.TransactionsResponse{
		OrgID:        orgID,
		Transactions: txs,
		Count:        len(txs),
	})
}

// EnableBYOK switches the org to bring-your-own-key mode.
func EnableBYOK(c middleware.Context) {
	orgID := c.Param("org_id")
	if err := creditLedger.EnableBYOK(c.Request.Context(), orgID, ""); err != nil {
		logger.WithFields(logging.Fields{
			"error":  err,
			"org_id": orgID,
		}).Error("Failed to enable BYOK")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to enable BYOK"})
		return
	}
	c.JSON(http.StatusOK, bursarapi.ByokResponse{OrgID: orgID, IsBYOK: true})
}

// DisableBYOK restores metering for the org.
func DisableBYOK(c middleware.Context) {
	orgID := c.Param("org_id")
	if err := creditLedger.DisableBYOK(c.Request.Context(), orgID); err != nil {
		logger.WithFields(logging.Fields{
			"error":  err,
			"org_id": orgID,
		}).Error("Failed to disable BYOK")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to disable BYOK"})
		return
	}
	c.JSON(http.StatusOK, bursarapi.ByokResponse{OrgID: orgID, IsBYOK: false})
}

// GetPoolHealth reports the pool's balance, runway banding and breakage.
func GetPoolHealth(c middleware.Context) {
	health, err := poolLedger.GetPoolHealth(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to get pool health")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to get pool health"})
		return
	}
	c.JSON(http.StatusOK, health)
}

// GetPoolTransactions lists recent pool-level events.
func GetPoolTransactions(c middleware.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	txs, err := poolLedger.ListTransactions(c.Request.Context(), limit)
	if err != nil {
		logger.WithError(err).Error("Failed to list pool transactions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list pool transactions"})
		return
	}
	c.JSON(http.StatusOK, bursarapi.PoolTransactionsResponse{
		Transactions: txs,
		Count:        len(txs),
	})
}

// TriggerExpirySweep runs the expiry sweep outside its schedule.
func TriggerExpirySweep(c middleware.Context) {
	swept, err := jobManager.RunExpirySweep(c.Request.Context())
	if err != nil {
		metrics.ExpirySweeps.WithLabelValues("error").Inc()
		logger.WithError(err).Error("Manual expiry sweep failed")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Expiry sweep failed"})
		return
	}
	metrics.ExpirySweeps.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, bursarapi.SweepResponse{SweptCount: swept, Success: true})
}

// TriggerMonthlyReset runs the monthly pool metrics reset outside its schedule.
func TriggerMonthlyReset(c middleware.Context) {
	if err := jobManager.RunMonthlyReset(c.Request.Context()); err != nil {
		logger.WithError(err).Error("Manual monthly reset failed")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Monthly reset failed"})
		return
	}
	c.JSON(http.StatusOK, bursarapi.ResetResponse{Success: true})
}
