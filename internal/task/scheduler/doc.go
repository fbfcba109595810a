// Package scheduler owns the job queue.
//
// Jobs are either one-shot (pay at a fixed time) or periodic (check on a
// recurrence rule). The loop polls on a fixed tick and runs due jobs one at a
// time, in next-run order with ties broken by insertion order. A job's failure
// or panic is contained: it is logged, optionally reported to the task's
// recipient, and the job is still removed or rescheduled.
//
// Recurrence rules implement cron.Schedule so interval rules (Every) and cron
// expressions are interchangeable.
package scheduler
