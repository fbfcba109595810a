package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"strconv"
	"strings"
	"time"

	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// sqlStore implements Store over database/sql. Queries are written with "?"
// placeholders and rebound per dialect.
type sqlStore struct {
	db   *sql.DB
	log  logx.Logger
	bind func(string) string
}

func newSQLStore(ctx context.Context, db *sql.DB, bind func(string) string, log logx.Logger) (*sqlStore, error) {
	if bind == nil {
		bind = func(q string) string { return q }
	}
	s := &sqlStore{db: db, log: log, bind: bind}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendPayment(ctx context.Context, rec parking.PaymentRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO payments(id, task, plate, location, rate, minutes, outcome, cost, err, at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`),
		rec.ID, rec.Task, rec.Plate, rec.Location, rec.Rate, rec.Minutes, string(rec.Outcome),
		nullStr(rec.Cost), nullStr(rec.Error), rec.At.UnixMilli(),
	)
	return err
}

func (s *sqlStore) ListPayments(ctx context.Context, limit int) ([]parking.PaymentRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, task, plate, location, rate, minutes, outcome, cost, err, at
		 FROM payments ORDER BY at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parking.PaymentRecord
	for rows.Next() {
		var (
			rec       parking.PaymentRecord
			outcome   string
			cost, msg sql.NullString
			ms        int64
		)
		if err := rows.Scan(&rec.ID, &rec.Task, &rec.Plate, &rec.Location, &rec.Rate, &rec.Minutes, &outcome, &cost, &msg, &ms); err != nil {
			return nil, err
		}
		rec.Outcome = parking.OutcomeKind(outcome)
		rec.Cost, rec.Error = cost.String, msg.String
		rec.At = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) PutPendingPay(ctx context.Context, p parking.PendingPay) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO pending_pay(job_id, task, at) VALUES(?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET task=excluded.task, at=excluded.at`),
		p.JobID, p.Task, p.At.UnixMilli(),
	)
	return err
}

func (s *sqlStore) DeletePendingPay(ctx context.Context, jobID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM pending_pay WHERE job_id = ?`), jobID)
	return err
}

func (s *sqlStore) ListPendingPay(ctx context.Context) ([]parking.PendingPay, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, task, at FROM pending_pay ORDER BY at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parking.PendingPay
	for rows.Next() {
		var (
			p  parking.PendingPay
			ms int64
		)
		if err := rows.Scan(&p.JobID, &p.Task, &ms); err != nil {
			return nil, err
		}
		p.At = time.UnixMilli(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

// rebindDollar turns "?" placeholders into "$1", "$2", ... for postgres.
func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
