package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paybybot/internal/notifier"
	"paybybot/internal/parking"
	"paybybot/internal/provider"
	"paybybot/internal/task/scheduler"
	logx "paybybot/pkg/logx"
)

// CheckRunner inspects a task's sessions and decides between alerting,
// reminding, scheduling a pay job and paying now.
type CheckRunner struct {
	cfg    Config
	open   provider.Factory
	queue  Queue
	pay    *PayRunner
	notify notifier.Notifier
	log    logx.Logger
	now    func() time.Time
}

func NewCheckRunner(cfg Config, open provider.Factory, queue Queue, pay *PayRunner, n notifier.Notifier, log logx.Logger) *CheckRunner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CheckRunner{cfg: cfg.withDefaults(), open: open, queue: queue, pay: pay, notify: n, log: log, now: time.Now}
}

// Run performs one check. Errors are connection or listing failures; the
// provider is closed on every path.
func (r *CheckRunner) Run(ctx context.Context, task *parking.Task) error {
	log := r.log.With(logx.String("task", task.Name), logx.String("plate", task.Plate))

	p, err := provider.Connect(ctx, r.open, task.Credentials, r.cfg.Retry, log)
	if err != nil {
		return fmt.Errorf("check %s: %w", task.Name, err)
	}
	defer closeProvider(p, log)

	sessions, err := provider.ListSessions(ctx, p, r.cfg.Retry, log)
	if err != nil {
		return fmt.Errorf("check %s: %w", task.Name, err)
	}
	now := r.now()
	log.Info("sessions retrieved", logx.Int("count", len(sessions)))

	if len(sessions) == 0 {
		r.send(ctx, log, task, subjectAlert, alertBody(task))
	}

	var lines []string
	for _, s := range sessions {
		if left := s.Remaining(now); left > 0 && left <= r.cfg.ReminderWindow {
			lines = append(lines, reminderLine(s, now, r.cfg.Location))
		}
	}

	if task.Pay != nil {
		r.decidePay(ctx, log, task, sessions, now, p)
	}

	if len(lines) > 0 {
		r.send(ctx, log, task, subjectReminder, strings.Join(lines, "\n"))
	}
	return nil
}

func (r *CheckRunner) decidePay(ctx context.Context, log logx.Logger, task *parking.Task, sessions []parking.Session, now time.Time, p provider.SessionProvider) {
	s, covered := task.CoveredAt(sessions, now)
	switch {
	case covered && s.Remaining(now) > r.cfg.ReminderWindow:
		log.Debug("covered", logx.Time("expiry", s.Expiry))
	case covered:
		at := s.Expiry.Add(r.cfg.PayMargin)
		if !r.queue.Schedule(scheduler.NewPayJob(task, at)) {
			log.Debug("pay job already pending", logx.Time("at", at))
		}
	case r.queue.HasPendingPay(task.Name):
		log.Info("not covered but a pay job is pending; skipping immediate payment")
	default:
		r.pay.Run(ctx, task, p)
	}
}

func (r *CheckRunner) send(ctx context.Context, log logx.Logger, task *parking.Task, subject, body string) {
	if r.notify == nil {
		return
	}
	if err := r.notify.Send(ctx, task.Recipient, subject, body); err != nil {
		log.Warn("notification failed", logx.String("subject", subject), logx.Err(err))
	}
}
