package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"bursar/internal/jobs"
	"bursar/internal/ledger"
	"bursar/internal/pool"
	"bursar/internal/pricing"
	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/logging"
)

func testMetrics() *BursarMetrics {
	return &BursarMetrics{
		Deductions:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_deductions_total"}, []string{"status"}),
		Purchases:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_purchases_total"}, []string{"status"}),
		ExpirySweeps: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_sweeps_total"}, []string{"status"}),
	}
}

func setupTest(t *testing.T) (sqlmock.Sqlmock, *gin.Engine, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	log := logging.NewLogger()
	poolL := pool.NewLedger(mockDB, log, nil)
	credits := ledger.NewLedger(mockDB, log, poolL, pricing.NewTable(log), nil)
	Init(credits, poolL, jobs.NewManager(credits, poolL, log), log, testMetrics())

	router := gin.New()
	router.POST("/credits/deduct", DeductCredits)
	router.POST("/credits/check", CheckCredits)
	router.POST("/purchases", RecordPurchase)
	router.POST("/credits/bonus", RecordBonus)
	router.POST("/jobs/expiry-sweep", TriggerExpirySweep)

	return mock, router, func() { mockDB.Close() }
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDeductCredits_InsufficientReturns402(t *testing.T) {
	mock, router, closeDB := setupTest(t)
	defer closeDB()

	orgID := uuid.New().String()

	mock.ExpectExec(`INSERT INTO bursar.org_credit_balances`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT org_id, org_name`).
		WillReturnRows(balanceFixture(orgID, 10))
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bursar.org_credit_balances`).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_cents"}))
	mock.ExpectRollback()

	w := postJSON(t, router, "/credits/deduct", bursarapi.DeductRequest{
		OrgID: orgID,
		Usage: modelUsage(),
	})

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.DeductResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failed deduction")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCheckCredits_OK(t *testing.T) {
	mock, router, closeDB := setupTest(t)
	defer closeDB()

	orgID := uuid.New().String()

	mock.ExpectExec(`INSERT INTO bursar.org_credit_balances`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT org_id, org_name`).
		WillReturnRows(balanceFixture(orgID, 750))

	w := postJSON(t, router, "/credits/check", bursarapi.CheckRequest{OrgID: orgID})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.CheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.OK || resp.RemainingCents != 750 || resp.IsBYOK {
		t.Fatalf("unexpected check response: %+v", resp)
	}
}

func TestRecordPurchase_InvalidAmount(t *testing.T) {
	_, router, closeDB := setupTest(t)
	defer closeDB()

	w := postJSON(t, router, "/purchases", bursarapi.PurchaseRequest{
		OrgID:       uuid.New().String(),
		AmountCents: -100,
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordBonus_UnknownOrgReturns404(t *testing.T) {
	mock, router, closeDB := setupTest(t)
	defer closeDB()

	// No balance row to credit.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bursar.org_credit_balances`).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_cents"}))
	mock.ExpectRollback()

	w := postJSON(t, router, "/credits/bonus", bursarapi.BonusRequest{
		OrgID:       uuid.New().String(),
		AmountCents: 250,
	})

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeductCredits_MalformedRequest(t *testing.T) {
	_, router, closeDB := setupTest(t)
	defer closeDB()

	req := httptest.NewRequest(http.MethodPost, "/credits/deduct", bytes.NewReader([]byte(`{not json`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTriggerExpirySweep_Empty(t *testing.T) {
	mock, router, closeDB := setupTest(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT org_id`).
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}))

	w := postJSON(t, router, "/jobs/expiry-sweep", struct{}{})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.SweepResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.SweptCount != 0 {
		t.Fatalf("unexpected sweep response: %+v", resp)
	}
}
