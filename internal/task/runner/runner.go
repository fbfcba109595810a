package runner

import (
	"context"
	"time"

	"paybybot/internal/parking"
	"paybybot/internal/provider"
	"paybybot/internal/task/scheduler"
)

// Config is shared by CheckRunner and PayRunner.
type Config struct {
	// PayMargin is added to a session's expiry for the follow-up pay job.
	PayMargin time.Duration
	// ReminderWindow: sessions ending within it are reported and, when
	// matching a paying task, followed by a pay job.
	ReminderWindow time.Duration
	Retry          provider.RetryPolicy
	Location       *time.Location
}

func (c Config) withDefaults() Config {
	if c.PayMargin <= 0 {
		c.PayMargin = 60 * time.Second
	}
	if c.ReminderWindow <= 0 {
		c.ReminderWindow = 24 * time.Hour
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Queue is the part of the scheduler the runners need.
type Queue interface {
	Schedule(job *scheduler.Job) bool
	HasPendingPay(task string) bool
}

// Ledger records payment outcomes.
type Ledger interface {
	AppendPayment(ctx context.Context, rec parking.PaymentRecord) error
}

// Dispatcher routes scheduler jobs to the runners.
type Dispatcher struct {
	Check *CheckRunner
	Pay   *PayRunner
}

var _ scheduler.Handler = (*Dispatcher)(nil)

// Handle returns check failures to the scheduler. Pay failures are reported
// by PayRunner itself and not returned.
func (d *Dispatcher) Handle(ctx context.Context, job *scheduler.Job) error {
	switch job.Kind {
	case scheduler.KindPay:
		d.Pay.Run(ctx, job.Task, nil)
		return nil
	default:
		return d.Check.Run(ctx, job.Task)
	}
}
