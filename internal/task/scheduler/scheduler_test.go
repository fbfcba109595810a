package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybybot/internal/eventbus"
	"paybybot/internal/parking"
	logx "paybybot/pkg/logx"
)

type sent struct {
	to      parking.Recipient
	subject string
	body    string
}

type recordingNotifier struct {
	mu  sync.Mutex
	out []sent
}

func (r *recordingNotifier) Send(ctx context.Context, to parking.Recipient, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, sent{to, subject, body})
	return nil
}

func (r *recordingNotifier) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.out...)
}

type memJournal struct {
	mu      sync.Mutex
	pending map[string]parking.PendingPay
}

func newMemJournal() *memJournal { return &memJournal{pending: map[string]parking.PendingPay{}} }

func (m *memJournal) PutPendingPay(ctx context.Context, p parking.PendingPay) error {
	m.mu.Lock()
	m.pending[p.JobID] = p
	m.mu.Unlock()
	return nil
}

func (m *memJournal) DeletePendingPay(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
	return nil
}

func (m *memJournal) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(n *recordingNotifier) *Service {
	if n == nil {
		n = &recordingNotifier{}
	}
	return New(Config{Tick: time.Millisecond, Location: time.UTC}, n, logx.Nop(), eventbus.New(50))
}

func payTask(name string) *parking.Task {
	return &parking.Task{
		Name:      name,
		Plate:     "AB-123-CD",
		Location:  "42",
		Check:     parking.Cadence{Every: 1, Unit: "day", At: "08:30"},
		Pay:       &parking.PayDirective{Rate: "VIS", Duration: time.Hour},
		Recipient: parking.Recipient{Email: "a@example.com"},
	}
}

func TestScheduleAtMostOnePendingPay(t *testing.T) {
	s := newTestScheduler(nil)
	task := payTask("car")

	assert.True(t, s.Schedule(NewPayJob(task, t0)))
	assert.False(t, s.Schedule(NewPayJob(task, t0.Add(time.Hour))))
	assert.True(t, s.HasPendingPay("car"))
	assert.True(t, s.Schedule(NewPayJob(payTask("other"), t0)))
	assert.Len(t, s.Snapshot(), 2)
}

func TestRunPendingOrderAndOneShot(t *testing.T) {
	s := newTestScheduler(nil)
	var order []string
	s.SetHandler(HandlerFunc(func(ctx context.Context, job *Job) error {
		order = append(order, job.Task.Name)
		return nil
	}))

	s.Schedule(NewPayJob(payTask("late"), t0.Add(time.Minute)))
	s.Schedule(NewPayJob(payTask("first"), t0))
	s.Schedule(NewPayJob(payTask("second"), t0))
	s.Schedule(NewPayJob(payTask("future"), t0.Add(time.Hour)))

	s.RunPending(context.Background(), t0.Add(time.Minute))
	assert.Equal(t, []string{"first", "second", "late"}, order)

	// One-shot jobs ran exactly once.
	s.RunPending(context.Background(), t0.Add(time.Minute))
	assert.Len(t, order, 3)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "future", snap[0].Task)
}

func TestPeriodicRescheduledStrictlyAfterNow(t *testing.T) {
	s := newTestScheduler(nil)
	runs := 0
	s.SetHandler(HandlerFunc(func(ctx context.Context, job *Job) error {
		runs++
		return nil
	}))

	task := payTask("car")
	rule, err := ParseRule(parking.Cadence{Every: 1, Unit: "minute"}, time.UTC)
	require.NoError(t, err)
	job := NewCheckJob(task, rule, t0)
	s.Schedule(job)

	now := t0.Add(90 * time.Second)
	s.RunPending(context.Background(), now)
	assert.Equal(t, 1, runs)
	assert.True(t, job.NextRun.After(now))
	assert.Len(t, s.Snapshot(), 1)

	s.RunPending(context.Background(), now)
	assert.Equal(t, 1, runs)
}

type stuckRule struct{ at time.Time }

func (r stuckRule) Next(time.Time) time.Time { return r.at }

func TestPeriodicGuardsAgainstStaleRule(t *testing.T) {
	s := newTestScheduler(nil)
	s.SetHandler(HandlerFunc(func(ctx context.Context, job *Job) error { return nil }))
	job := NewCheckJob(payTask("car"), stuckRule{at: t0}, t0)
	s.Schedule(job)

	s.RunPending(context.Background(), t0)
	assert.True(t, job.NextRun.After(t0))
}

func TestJobsInsertedDuringPassRunLater(t *testing.T) {
	s := newTestScheduler(nil)
	var ran []Kind
	task := payTask("car")
	s.SetHandler(HandlerFunc(func(ctx context.Context, job *Job) error {
		ran = append(ran, job.Kind)
		if job.Kind == KindCheck {
			s.Schedule(NewPayJob(task, t0))
		}
		return nil
	}))
	rule, _ := ParseRule(task.Check, time.UTC)
	s.Schedule(NewCheckJob(task, rule, t0))

	s.RunPending(context.Background(), t0)
	assert.Equal(t, []Kind{KindCheck}, ran)

	s.RunPending(context.Background(), t0)
	assert.Equal(t, []Kind{KindCheck, KindPay}, ran)
	assert.False(t, s.HasPendingPay("car"))
}

func TestFailureIsContainedAndReported(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestScheduler(n)
	s.SetHandler(HandlerFunc(func(ctx context.Context, job *Job) error {
		if job.Task.Name == "boom" {
			panic("selector not found")
		}
		return errors.New("portal down")
	}))

	failing := payTask("failing")
	failing.NotifyOnError = true
	boom := payTask("boom")
	boom.NotifyOnError = true
	quiet := payTask("quiet")

	s.Schedule(NewPayJob(failing, t0))
	s.Schedule(NewPayJob(boom, t0))
	s.Schedule(NewPayJob(quiet, t0))

	s.RunPending(context.Background(), t0)
	assert.Empty(t, s.Snapshot(), "failed one-shot jobs are still removed")

	out := n.all()
	require.Len(t, out, 2)
	assert.Contains(t, out[0].subject, "failing")
	assert.Contains(t, out[0].body, "portal down")
	assert.Contains(t, out[1].body, "selector not found")
	assert.Contains(t, out[1].body, "goroutine", "panic reports carry the stack")
}

func TestLoadKeepsSurvivingPayJobs(t *testing.T) {
	s := newTestScheduler(nil)
	j := newMemJournal()
	s.SetJournal(j)

	car, gone := payTask("car"), payTask("gone")
	require.NoError(t, s.Load([]*parking.Task{car, gone}, t0))
	s.Schedule(NewPayJob(car, t0.Add(time.Hour)))
	s.Schedule(NewPayJob(gone, t0.Add(time.Hour)))
	assert.Equal(t, 2, j.len())

	car2 := payTask("car")
	car2.Check = parking.Cadence{Every: 2, Unit: "hour", RunOnStart: true}
	require.NoError(t, s.Load([]*parking.Task{car2}, t0))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, KindCheck, snap[0].Kind)
	assert.True(t, snap[0].NextRun.Equal(t0), "run_on_start fires immediately")
	assert.Equal(t, KindPay, snap[1].Kind)
	assert.Equal(t, "car", snap[1].Task)
	assert.False(t, s.HasPendingPay("gone"))
	assert.Equal(t, 1, j.len())
}

func TestLoadRejectsBadRule(t *testing.T) {
	s := newTestScheduler(nil)
	bad := payTask("bad")
	bad.Check = parking.Cadence{Every: 1, Unit: "day", At: "99:00"}
	err := s.Load([]*parking.Task{bad}, t0)
	assert.True(t, errors.Is(err, parking.ErrConfig))
}

func TestRestore(t *testing.T) {
	s := newTestScheduler(nil)
	j := newMemJournal()
	s.SetJournal(j)
	require.NoError(t, s.Load([]*parking.Task{payTask("car")}, t0))

	pending := []parking.PendingPay{
		{JobID: "job_1", Task: "car", At: t0},
		{JobID: "job_2", Task: "car", At: t0},
		{JobID: "job_3", Task: "unknown", At: t0},
	}
	for _, p := range pending {
		require.NoError(t, j.PutPendingPay(context.Background(), p))
	}

	n := s.Restore(pending)
	assert.Equal(t, 1, n)
	assert.True(t, s.HasPendingPay("car"))
	assert.Equal(t, 1, j.len(), "duplicate and orphaned rows are dropped from the journal")

	// Restoring the same rows again keeps the live job's row.
	assert.Zero(t, s.Restore(pending[:1]))
	assert.Equal(t, 1, j.len())
}

func TestRunLoopAppliesReloadAndStops(t *testing.T) {
	s := newTestScheduler(nil)
	var mu sync.Mutex
	runs := 0
	s.SetHandler(HandlerFunc(func(ctx context.Context, job *Job) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}))

	task := payTask("car")
	task.Check = parking.Cadence{Every: 1, Unit: "day", RunOnStart: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Reload([]*parking.Task{task})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunWithoutHandler(t *testing.T) {
	s := newTestScheduler(nil)
	assert.ErrorIs(t, s.Run(context.Background()), ErrNoHandler)
}
