package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"bursar/pkg/billing"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	l := &Ledger{
		db:            mockDB,
		logger:        logging.NewLogger(),
		grantCents:    500,
		lowRunwayDays: 30,
	}
	return l, mock, func() { mockDB.Close() }
}

func TestComputeRunway(t *testing.T) {
	// Slightly under 10 days elapsed, so ceil lands on day 10.
	monthStart := time.Now().Add(-10*24*time.Hour + time.Hour)

	// 1000 cents allocated over 10 days is 100 cents/day; a 5000-cent
	// balance lasts 50 days.
	if got := ComputeRunway(5000, 1000, monthStart, time.Now()); got != 50 {
		t.Fatalf("expected runway 50, got %d", got)
	}

	// No free-tier burn yet means unlimited runway.
	if got := ComputeRunway(5000, 0, monthStart, time.Now()); got != RunwayUnlimited {
		t.Fatalf("expected unlimited runway sentinel, got %d", got)
	}

	// A month that just started still counts as one elapsed day.
	if got := ComputeRunway(100, 100, time.Now(), time.Now()); got != 1 {
		t.Fatalf("expected runway 1 on day one, got %d", got)
	}

	// A drained pool has zero runway.
	if got := ComputeRunway(0, 1000, monthStart, time.Now()); got != 0 {
		t.Fatalf("expected runway 0 for empty pool, got %d", got)
	}
}

func TestComputeBreakage(t *testing.T) {
	if got := ComputeBreakage(10000, 1500, 0); got != 15 {
		t.Fatalf("expected breakage 15%%, got %f", got)
	}
	// Undefined ratio keeps the prior value.
	if got := ComputeBreakage(0, 500, 42.5); got != 42.5 {
		t.Fatalf("expected prior breakage 42.5, got %f", got)
	}
	// Breakage cannot exceed 100 when expiry never exceeds purchases.
	if got := ComputeBreakage(1000, 1000, 0); got != 100 {
		t.Fatalf("expected breakage 100%%, got %f", got)
	}
}

func TestRunwayStatus(t *testing.T) {
	if got := RunwayStatus(13); got != models.RunwayCritical {
		t.Fatalf("expected critical, got %s", got)
	}
	if got := RunwayStatus(14); got != models.RunwayWarning {
		t.Fatalf("expected warning, got %s", got)
	}
	if got := RunwayStatus(30); got != models.RunwayHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}
}

func TestRecordPurchase_InvalidAmount(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	if err := l.RecordPurchase(context.Background(), uuid.New().String(), 0); !errors.Is(err, billing.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database activity: %v", err)
	}
}

func TestRecordPurchase_UpdatesPoolAndRunway(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	orgID := uuid.New().String()
	monthStart := time.Now().Add(-5 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bursar.platform_pool \(id\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE bursar.platform_pool`).
		WithArgs(int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"pool_balance_cents", "month_free_allocated_cents", "month_start", "low_runway_alert_sent"}).
			AddRow(int64(6000), int64(0), monthStart, false))
	mock.ExpectExec(`INSERT INTO bursar.platform_pool_transactions`).
		WithArgs("purchase", int64(1000), int64(6000), orgID, "credit purchase").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar.platform_pool`).
		WithArgs(int64(RunwayUnlimited), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := l.RecordPurchase(context.Background(), orgID, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantFreeTierCredits_Rejected(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	orgID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bursar.platform_pool \(id\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Conditional update finds no fundable row: pool balance below grant.
	mock.ExpectQuery(`UPDATE bursar.platform_pool`).
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"pool_balance_cents", "month_free_allocated_cents", "month_start", "low_runway_alert_sent"}))
	mock.ExpectCommit()

	grant, err := l.GrantFreeTierCredits(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.Granted {
		t.Fatal("expected grant to be rejected")
	}
	if grant.AmountCents != 0 {
		t.Fatalf("rejected grant must carry no amount, got %d", grant.AmountCents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantFreeTierCredits_Funded(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	orgID := uuid.New().String()
	monthStart := time.Now().Add(-2*24*time.Hour + time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bursar.platform_pool \(id\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE bursar.platform_pool`).
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"pool_balance_cents", "month_free_allocated_cents", "month_start", "low_runway_alert_sent"}).
			AddRow(int64(9500), int64(500), monthStart, false))
	mock.ExpectExec(`INSERT INTO bursar.platform_pool_transactions`).
		WithArgs("free_grant", int64(-500), int64(9500), orgID, "free tier grant").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 500 cents over 2 days is 250/day; 9500 lasts 38 days.
	mock.ExpectExec(`UPDATE bursar.platform_pool`).
		WithArgs(int64(38), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	grant, err := l.GrantFreeTierCredits(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !grant.Granted || grant.AmountCents != 500 {
		t.Fatalf("expected 500-cent grant, got %+v", grant)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordExpiry_DoesNotMovePoolBalance(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	orgID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bursar.platform_pool \(id\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE bursar.platform_pool`).
		WithArgs(int64(150)).
		WillReturnRows(sqlmock.NewRows([]string{"pool_balance_cents", "total_purchased_cents", "total_expired_cents", "breakage_rate_percent"}).
			AddRow(int64(2000), int64(1000), int64(150), float64(0)))
	mock.ExpectExec(`SET breakage_rate_percent`).
		WithArgs(float64(15)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The transaction snapshot carries the unchanged balance.
	mock.ExpectExec(`INSERT INTO bursar.platform_pool_transactions`).
		WithArgs("expiry", int64(150), int64(2000), orgID, "expired credits retained as breakage").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := l.RecordExpiry(context.Background(), orgID, 150); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordConsumption_ZeroIsNoOp(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	if err := l.RecordConsumption(context.Background(), uuid.New().String(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database activity: %v", err)
	}
}

func TestResetMonthlyMetrics(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	// Two resets in a row issue the same idempotent statement.
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO bursar.platform_pool \(id\)`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`SET month_start = date_trunc`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	if err := l.ResetMonthlyMetrics(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.ResetMonthlyMetrics(context.Background()); err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetPoolHealth_Banding(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	monthStart := time.Now().Add(-3 * 24 * time.Hour)

	mock.ExpectQuery(`SELECT pool_balance_cents, runway_days`).
		WillReturnRows(sqlmock.NewRows([]string{
			"pool_balance_cents", "runway_days", "breakage_rate_percent",
			"total_expired_cents", "free_tier_allocated_cents", "free_tier_consumed_cents",
			"paying_org_count", "free_org_count", "byok_org_count",
			"month_start", "month_purchased_cents", "month_consumed_cents",
			"month_expired_cents", "month_free_allocated_cents",
		}).AddRow(
			int64(2000), int64(10), float64(15),
			int64(150), int64(1000), int64(250),
			int64(4), int64(8), int64(1),
			monthStart, int64(3000), int64(700),
			int64(150), int64(500)))

	h, err := l.GetPoolHealth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.RunwayStatus != models.RunwayCritical {
		t.Fatalf("expected critical banding at 10 days, got %s", h.RunwayStatus)
	}
	if h.FreeTierUtilizationPercent != 25 {
		t.Fatalf("expected 25%% utilization, got %f", h.FreeTierUtilizationPercent)
	}
	if h.MonthNetCents != 3000-700-500 {
		t.Fatalf("expected month net 1800, got %d", h.MonthNetCents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetPoolHealth_UninitializedPool(t *testing.T) {
	l, mock, closeDB := newTestLedger(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT pool_balance_cents, runway_days`).
		WillReturnRows(sqlmock.NewRows([]string{"pool_balance_cents"}))

	h, err := l.GetPoolHealth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.RunwayDays != RunwayUnlimited || h.RunwayStatus != models.RunwayHealthy {
		t.Fatalf("expected healthy unlimited snapshot before first use, got %+v", h)
	}
}
