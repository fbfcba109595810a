// Package runner holds the actions behind scheduled jobs: CheckRunner
// inspects a task's parking sessions and decides what to do, PayRunner pays
// for a new session. Dispatcher routes scheduler jobs to them.
package runner
