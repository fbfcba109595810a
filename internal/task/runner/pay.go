package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paybybot/internal/eventbus"
	"paybybot/internal/notifier"
	"paybybot/internal/parking"
	"paybybot/internal/provider"
	logx "paybybot/pkg/logx"
)

// PayRunner pays for a new session when a task is not covered.
type PayRunner struct {
	cfg    Config
	open   provider.Factory
	notify notifier.Notifier
	ledger Ledger
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
}

// NewPayRunner: ledger and bus may be nil.
func NewPayRunner(cfg Config, open provider.Factory, n notifier.Notifier, ledger Ledger, bus eventbus.Bus, log logx.Logger) *PayRunner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PayRunner{cfg: cfg.withDefaults(), open: open, notify: n, ledger: ledger, bus: bus, log: log, now: time.Now}
}

// Run pays for task. When p is nil the runner opens, authenticates and closes
// its own provider; otherwise p is reused and left open.
func (r *PayRunner) Run(ctx context.Context, task *parking.Task, p provider.SessionProvider) parking.PaymentOutcome {
	log := r.log.With(logx.String("task", task.Name), logx.String("plate", task.Plate))
	if task.Pay == nil {
		out := parking.PaymentOutcome{Kind: parking.OutcomeFailed, Err: fmt.Errorf("%w: task has no pay directive", parking.ErrConfig)}
		log.Error("pay requested without directive", logx.Err(out.Err))
		return out
	}
	req := parking.PayRequest{
		Plate:        task.Plate,
		Location:     task.MatchLocation(),
		Rate:         task.Pay.Rate,
		Duration:     task.Pay.Duration,
		ExpectedCost: task.Pay.ExpectedCost,
	}

	out := r.pay(ctx, log, task, req, p)
	r.report(ctx, log, task, req, out)
	return out
}

func (r *PayRunner) pay(ctx context.Context, log logx.Logger, task *parking.Task, req parking.PayRequest, p provider.SessionProvider) parking.PaymentOutcome {
	if p == nil {
		owned, err := provider.Connect(ctx, r.open, task.Credentials, r.cfg.Retry, log)
		if err != nil {
			return parking.PaymentOutcome{Kind: parking.OutcomeFailed, Err: err}
		}
		defer closeProvider(owned, log)
		p = owned
	}

	sessions, err := provider.ListSessions(ctx, p, r.cfg.Retry, log)
	if err != nil {
		return parking.PaymentOutcome{Kind: parking.OutcomeFailed, Err: err}
	}
	if s, ok := task.CoveredAt(sessions, r.now()); ok {
		log.Info("already covered; payment skipped", logx.Time("expiry", s.Expiry))
		return parking.PaymentOutcome{Kind: parking.OutcomeSkipped}
	}

	log.Info("paying", logx.String("location", req.Location), logx.String("rate", req.Rate), logx.Duration("duration", req.Duration))
	cost, err := p.Pay(ctx, req)
	if err != nil {
		if !errors.Is(err, parking.ErrPayment) {
			err = fmt.Errorf("%w: %w", parking.ErrPayment, err)
		}
		return parking.PaymentOutcome{Kind: parking.OutcomeFailed, Err: err}
	}
	if req.ExpectedCost != "" && !sameCost(cost, req.ExpectedCost) {
		log.Warn("payment cost differs from expected", logx.String("cost", cost), logx.String("expected", req.ExpectedCost))
	}
	return parking.PaymentOutcome{Kind: parking.OutcomePaid, Cost: cost}
}

func (r *PayRunner) report(ctx context.Context, log logx.Logger, task *parking.Task, req parking.PayRequest, out parking.PaymentOutcome) {
	rec := parking.PaymentRecord{
		ID:       uuid.NewString(),
		Task:     task.Name,
		Plate:    req.Plate,
		Location: req.Location,
		Rate:     req.Rate,
		Minutes:  int(req.Duration / time.Minute),
		Outcome:  out.Kind,
		Cost:     out.Cost,
		At:       r.now(),
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}

	var subject, body string
	switch out.Kind {
	case parking.OutcomePaid:
		log.Info("payment completed", logx.String("cost", out.Cost))
		if task.Pay.Notify {
			subject, body = subjectPaid, paidBody(req, out.Cost)
		}
	case parking.OutcomeFailed:
		log.Error("payment failed", logx.Err(out.Err))
		if task.Pay.Notify || task.NotifyOnError {
			subject, body = subjectPayFailed, failedBody(task, req, out.Err)
		}
	}

	if out.Kind != parking.OutcomeSkipped && r.ledger != nil {
		if err := r.ledger.AppendPayment(ctx, rec); err != nil {
			log.Warn("ledger append failed", logx.Err(err))
		}
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypePayFinished, Data: rec})
	}
	if subject != "" && r.notify != nil {
		if err := r.notify.Send(ctx, task.Recipient, subject, body); err != nil {
			log.Warn("payment notification failed", logx.Err(err))
		}
	}
}

func closeProvider(p provider.SessionProvider, log logx.Logger) {
	if err := p.Close(); err != nil {
		log.Warn("provider close failed", logx.Err(err))
	}
}
