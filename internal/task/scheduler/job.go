package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"paybybot/internal/parking"
)

type Kind string

const (
	KindCheck Kind = "check"
	KindPay   Kind = "pay"
)

type Mode int

const (
	OneShot Mode = iota
	Periodic
)

func (m Mode) String() string {
	if m == Periodic {
		return "periodic"
	}
	return "oneshot"
}

// Job is one scheduled unit of work. Rule is set for Periodic jobs only.
type Job struct {
	ID      string
	Task    *parking.Task
	Kind    Kind
	NextRun time.Time
	Mode    Mode
	Rule    cron.Schedule

	seq uint64
}

// NewCheckJob returns a periodic check job first due at first.
func NewCheckJob(task *parking.Task, rule cron.Schedule, first time.Time) *Job {
	return &Job{ID: newJobID(), Task: task, Kind: KindCheck, NextRun: first, Mode: Periodic, Rule: rule}
}

// NewPayJob returns a one-shot pay job due at at.
func NewPayJob(task *parking.Task, at time.Time) *Job {
	return &Job{ID: newJobID(), Task: task, Kind: KindPay, NextRun: at, Mode: OneShot}
}

func newJobID() string { return "job_" + uuid.NewString() }

// JobInfo is a read-only view for the status API.
type JobInfo struct {
	ID      string    `json:"id"`
	Task    string    `json:"task"`
	Kind    Kind      `json:"kind"`
	Mode    string    `json:"mode"`
	NextRun time.Time `json:"next_run"`
}

func (j *Job) info() JobInfo {
	name := ""
	if j.Task != nil {
		name = j.Task.Name
	}
	return JobInfo{ID: j.ID, Task: name, Kind: j.Kind, Mode: j.Mode.String(), NextRun: j.NextRun}
}

// before orders jobs by next run, then insertion.
func before(a, b *Job) bool {
	if !a.NextRun.Equal(b.NextRun) {
		return a.NextRun.Before(b.NextRun)
	}
	return a.seq < b.seq
}
