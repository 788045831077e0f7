package jobs

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"bursar/internal/ledger"
	"bursar/internal/pool"
	"bursar/internal/pricing"
	"bursar/pkg/logging"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	logger := logging.NewLogger()
	poolLedger := pool.NewLedger(mockDB, logger, nil)
	creditLedger := ledger.NewLedger(mockDB, logger, poolLedger, pricing.NewTable(logger), nil)
	return NewManager(creditLedger, poolLedger, logger), mock, func() { mockDB.Close() }
}

func TestStartRegistersSchedules(t *testing.T) {
	m, _, closeDB := newTestManager(t)
	defer closeDB()

	if err := m.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Stop()

	if got := m.Entries(); got != 2 {
		t.Fatalf("expected 2 scheduled jobs, got %d", got)
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	m, _, closeDB := newTestManager(t)
	defer closeDB()

	t.Setenv("EXPIRY_SWEEP_SCHEDULE", "not a schedule")

	if err := m.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunExpirySweep_NothingToSweep(t *testing.T) {
	m, mock, closeDB := newTestManager(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT org_id`).
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}))

	swept, err := m.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected 0 swept, got %d", swept)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunMonthlyReset(t *testing.T) {
	m, mock, closeDB := newTestManager(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bursar.platform_pool \(id\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET month_start = date_trunc`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := m.RunMonthlyReset(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
