package storage

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id string, offset time.Duration) parking.PaymentRecord {
	return parking.PaymentRecord{
		ID: id, Task: "car", Plate: "AB-123-CD", Location: "42", Rate: "VIS",
		Minutes: 60, Outcome: parking.OutcomePaid, Cost: "2.50", At: at.Add(offset),
	}
}

// exercise runs the same scenario against any driver.
func exercise(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.AppendPayment(ctx, record("p1", 0)))
	require.NoError(t, st.AppendPayment(ctx, record("p2", time.Minute)))
	failed := record("p3", 2*time.Minute)
	failed.Outcome, failed.Cost, failed.Error = parking.OutcomeFailed, "", "card declined"
	require.NoError(t, st.AppendPayment(ctx, failed))

	recs, err := st.ListPayments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "p3", recs[0].ID)
	assert.Equal(t, "card declined", recs[0].Error)
	assert.Equal(t, "p2", recs[1].ID)
	assert.Equal(t, "2.50", recs[1].Cost)
	assert.True(t, recs[1].At.Equal(at.Add(time.Minute)))

	require.NoError(t, st.PutPendingPay(ctx, parking.PendingPay{JobID: "job_b", Task: "bike", At: at.Add(time.Hour)}))
	require.NoError(t, st.PutPendingPay(ctx, parking.PendingPay{JobID: "job_a", Task: "car", At: at}))
	require.NoError(t, st.PutPendingPay(ctx, parking.PendingPay{JobID: "job_c", Task: "van", At: at}))
	require.NoError(t, st.DeletePendingPay(ctx, "job_c"))

	pending, err := st.ListPendingPay(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "job_a", pending[0].JobID)
	assert.Equal(t, "job_b", pending[1].JobID)
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	exercise(t, st)
	require.NoError(t, st.Close())

	// Pending jobs survive a reopen through snapshot + journal replay.
	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	pending, err := st.ListPendingPay(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	recs, err := st.ListPayments(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paybybot.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	exercise(t, st)
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	pending, err := st.ListPendingPay(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS payments").WillReturnResult(sqlmock.NewResult(0, 0))
	st, err := newPostgresStore(context.Background(), db, logx.Nop())
	require.NoError(t, err)

	rec := record("p1", 0)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments(id, task, plate, location, rate, minutes, outcome, cost, err, at)")).
		WithArgs("p1", "car", "AB-123-CD", "42", "VIS", 60, "paid", "2.50", nil, at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, st.AppendPayment(context.Background(), rec))

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments ORDER BY at DESC LIMIT $1")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task", "plate", "location", "rate", "minutes", "outcome", "cost", "err", "at"}).
			AddRow("p1", "car", "AB-123-CD", "42", "VIS", 60, "paid", "2.50", nil, at.UnixMilli()))
	recs, err := st.ListPayments(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, parking.OutcomePaid, recs[0].Outcome)
	assert.True(t, recs[0].At.Equal(at))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pending_pay(job_id, task, at) VALUES($1,$2,$3)")).
		WithArgs("job_1", "car", at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, st.PutPendingPay(context.Background(), parking.PendingPay{JobID: "job_1", Task: "car", At: at}))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pending_pay WHERE job_id = $1")).
		WithArgs("job_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, st.DeletePendingPay(context.Background(), "job_1"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT job_id, task, at FROM pending_pay ORDER BY at")).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "task", "at"}))
	pending, err := st.ListPendingPay(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", rebindDollar("a = ? AND b = ?"))
	assert.Equal(t, "no params", rebindDollar("no params"))
}
