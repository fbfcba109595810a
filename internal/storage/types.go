package storage

import (
	"context"
	"errors"
	"time"

	"paybybot/internal/parking"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": path is a file prefix (e.g. ~/.paybybot/state)
//   - "sqlite": path is the database file
//   - "postgres": dsn is a lib/pq connection string
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the runners and the scheduler.
type Store interface {
	AppendPayment(ctx context.Context, rec parking.PaymentRecord) error
	// ListPayments returns up to limit records, newest first.
	ListPayments(ctx context.Context, limit int) ([]parking.PaymentRecord, error)

	PutPendingPay(ctx context.Context, p parking.PendingPay) error
	DeletePendingPay(ctx context.Context, jobID string) error
	ListPendingPay(ctx context.Context) ([]parking.PendingPay, error)

	Close() error
}

const defaultListLimit = 50
