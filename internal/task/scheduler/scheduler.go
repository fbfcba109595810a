package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"paybybot/internal/eventbus"
	"paybybot/internal/notifier"
	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

// ErrNoHandler is returned by Run when no handler was set.
var ErrNoHandler = errors.New("scheduler handler not set")

// Handler executes one due job.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

// Journal persists pending pay jobs so they survive a restart.
type Journal interface {
	PutPendingPay(ctx context.Context, p parking.PendingPay) error
	DeletePendingPay(ctx context.Context, jobID string) error
}

type Config struct {
	Tick     time.Duration
	Location *time.Location
}

type Service struct {
	mu    sync.Mutex
	queue []*Job
	seq   uint64
	tasks map[string]*parking.Task

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	notify  notifier.Notifier
	handler Handler
	journal Journal

	reloads chan []*parking.Task
	now     func() time.Time
}

func New(cfg Config, notify notifier.Notifier, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		notify:  notify,
		tasks:   map[string]*parking.Task{},
		reloads: make(chan []*parking.Task, 1),
		now:     time.Now,
	}
}

// SetHandler must be called before Run or RunPending.
func (s *Service) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Service) SetJournal(j Journal) {
	s.mu.Lock()
	s.journal = j
	s.mu.Unlock()
}

func (s *Service) Location() *time.Location { return s.cfg.Location }

// Schedule inserts job. Inserting a pay job for a task that already has one
// pending is a no-op and returns false.
func (s *Service) Schedule(job *Job) bool {
	if job == nil || job.Task == nil {
		return false
	}
	s.mu.Lock()
	if job.Kind == KindPay && s.hasPendingPayLocked(job.Task.Name) {
		s.mu.Unlock()
		s.log.Debug("pay job already pending", logx.String("task", job.Task.Name))
		return false
	}
	s.seq++
	job.seq = s.seq
	s.queue = append(s.queue, job)
	j := s.journal
	s.mu.Unlock()

	if job.Kind == KindPay {
		s.log.Info("pay job scheduled", logx.String("task", job.Task.Name), logx.String("job", job.ID), logx.Time("at", job.NextRun))
		s.publish(eventbus.TypePayScheduled, job.info())
		if j != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := j.PutPendingPay(ctx, parking.PendingPay{JobID: job.ID, Task: job.Task.Name, At: job.NextRun}); err != nil {
				s.log.Warn("persist pending pay failed", logx.String("job", job.ID), logx.Err(err))
			}
			cancel()
		}
	}
	return true
}

// HasPendingPay reports whether task has a queued pay job.
func (s *Service) HasPendingPay(task string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPendingPayLocked(task)
}

func (s *Service) hasPendingPayLocked(task string) bool {
	for _, j := range s.queue {
		if j.Kind == KindPay && j.Task.Name == task {
			return true
		}
	}
	return false
}

// Snapshot returns the queue in run order.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := append([]*Job(nil), s.queue...)
	sort.SliceStable(jobs, func(i, k int) bool { return before(jobs[i], jobs[k]) })
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.info())
	}
	return out
}

// RunPending executes every job due at now, one at a time. Jobs scheduled
// while the pass runs wait for the next pass.
func (s *Service) RunPending(ctx context.Context, now time.Time) {
	s.mu.Lock()
	h := s.handler
	due := make([]*Job, 0, len(s.queue))
	for _, j := range s.queue {
		if !j.NextRun.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.SliceStable(due, func(i, k int) bool { return before(due[i], due[k]) })

	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		s.run(ctx, h, job)
		s.finish(job, now)
	}
}

func (s *Service) run(ctx context.Context, h Handler, job *Job) {
	log := s.log.With(logx.String("job", job.ID), logx.String("task", job.Task.Name), logx.String("kind", string(job.Kind)))
	start := time.Now()
	s.publish(eventbus.TypeJobStarted, job.info())

	stack, err := invoke(ctx, h, job)
	if err == nil {
		log.Debug("job done", logx.Duration("took", time.Since(start)))
		s.publish(eventbus.TypeJobFinished, job.info())
		return
	}

	if stack != "" {
		log.Error("job panicked", logx.Err(err), logx.Stack(stack))
	} else {
		log.Error("job failed", logx.Err(err))
	}
	s.publish(eventbus.TypeJobFailed, map[string]any{"job": job.info(), "error": err.Error()})

	if job.Task.NotifyOnError && s.notify != nil {
		subject := fmt.Sprintf("ERROR: %s %s job failed", job.Task.Name, job.Kind)
		body := failureDetail(job, err, stack)
		if nerr := s.notify.Send(ctx, job.Task.Recipient, subject, body); nerr != nil {
			log.Warn("error notification failed", logx.Err(nerr))
		}
	}
}

func invoke(ctx context.Context, h Handler, job *Job) (stack string, err error) {
	if h == nil {
		return "", ErrNoHandler
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stack = string(debug.Stack())
		}
	}()
	return "", h.Handle(ctx, job)
}

func failureDetail(job *Job, err error, stack string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nJob: %s (%s)\n\n", job.Task.Name, job.ID, job.Kind)
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%s\n", e.Error())
	}
	if stack != "" {
		b.WriteString("\n")
		b.WriteString(stack)
	}
	return b.String()
}

// finish removes a one-shot job or moves a periodic one strictly past now.
func (s *Service) finish(job *Job, now time.Time) {
	var (
		remove bool
		j      Journal
	)
	s.mu.Lock()
	switch job.Mode {
	case Periodic:
		next := time.Time{}
		if job.Rule != nil {
			next = job.Rule.Next(now)
		}
		if next.IsZero() {
			remove = true
			s.log.Warn("job rule has no next run; dropping", logx.String("job", job.ID))
		} else {
			if !next.After(now) {
				next = now.Add(time.Second)
			}
			job.NextRun = next
		}
	default:
		remove = true
	}
	if remove {
		s.removeLocked(job.ID)
	}
	j = s.journal
	s.mu.Unlock()

	if remove && job.Kind == KindPay && j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.DeletePendingPay(ctx, job.ID); err != nil {
			s.log.Warn("delete pending pay failed", logx.String("job", job.ID), logx.Err(err))
		}
		cancel()
	}
}

func (s *Service) removeLocked(id string) {
	for i, j := range s.queue {
		if j.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Load replaces the check jobs with one per task. Pending pay jobs of tasks
// that survive (and still pay) are kept, pointing at the new task.
func (s *Service) Load(tasks []*parking.Task, now time.Time) error {
	checks := make([]*Job, 0, len(tasks))
	byName := make(map[string]*parking.Task, len(tasks))
	for _, t := range tasks {
		rule, err := ParseRule(t.Check, s.cfg.Location)
		if err != nil {
			return fmt.Errorf("%w: task %q: %w", parking.ErrConfig, t.Name, err)
		}
		first := rule.Next(now)
		if t.Check.RunOnStart {
			first = now
		}
		checks = append(checks, NewCheckJob(t, rule, first))
		byName[t.Name] = t
	}

	var dropped []string
	s.mu.Lock()
	kept := s.queue[:0]
	for _, j := range s.queue {
		if j.Kind != KindPay {
			continue
		}
		nt, ok := byName[j.Task.Name]
		if !ok || nt.Pay == nil {
			dropped = append(dropped, j.ID)
			continue
		}
		j.Task = nt
		kept = append(kept, j)
	}
	s.queue = kept
	for _, j := range checks {
		s.seq++
		j.seq = s.seq
		s.queue = append(s.queue, j)
	}
	s.tasks = byName
	jr := s.journal
	s.mu.Unlock()

	if jr != nil {
		for _, id := range dropped {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = jr.DeletePendingPay(ctx, id)
			cancel()
		}
	}
	s.log.Info("tasks loaded", logx.Int("tasks", len(tasks)), logx.Int("pay_dropped", len(dropped)))
	return nil
}

// Restore re-arms persisted pay jobs. Entries for unknown tasks, tasks
// without a pay directive, or tasks that already have a pay job queued are
// discarded and deleted from the journal.
func (s *Service) Restore(pending []parking.PendingPay) int {
	n := 0
	for _, p := range pending {
		s.mu.Lock()
		t := s.tasks[p.Task]
		jr := s.journal
		s.mu.Unlock()

		if t == nil || t.Pay == nil {
			s.log.Warn("discarding pending pay for unknown task", logx.String("task", p.Task), logx.String("job", p.JobID))
			s.forget(jr, p.JobID)
			continue
		}
		job := &Job{ID: p.JobID, Task: t, Kind: KindPay, NextRun: p.At, Mode: OneShot}
		if s.Schedule(job) {
			n++
			continue
		}
		if !s.queued(p.JobID) {
			s.log.Warn("discarding duplicate pending pay", logx.String("task", p.Task), logx.String("job", p.JobID))
			s.forget(jr, p.JobID)
		}
	}
	return n
}

func (s *Service) queued(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.queue {
		if j.ID == id {
			return true
		}
	}
	return false
}

func (s *Service) forget(jr Journal, id string) {
	if jr == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := jr.DeletePendingPay(ctx, id); err != nil {
		s.log.Warn("delete pending pay failed", logx.String("job", id), logx.Err(err))
	}
}

// Reload hands a new task set to the loop. Only the latest set is kept.
func (s *Service) Reload(tasks []*parking.Task) {
	for {
		select {
		case s.reloads <- tasks:
			return
		default:
		}
		select {
		case <-s.reloads:
		default:
		}
	}
}

// Run polls every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return ErrNoHandler
	}

	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick), logx.String("tz", s.cfg.Location.String()))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case tasks := <-s.reloads:
			if err := s.Load(tasks, s.now()); err != nil {
				s.log.Error("reload rejected", logx.Err(err))
				continue
			}
			s.publish(eventbus.TypeConfigReload, map[string]any{"tasks": len(tasks)})
		case <-t.C:
			s.RunPending(ctx, s.now())
		}
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
