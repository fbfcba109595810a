// Package notifier delivers reminders, alerts and payment reports to a task's
// recipient.
//
// # Channels
//
// A recipient may be reachable by mail, telegram or both. Service sends over
// every channel that accepts the recipient and reports a joined error for the
// channels that failed.
//
// # Throttling
//
// Deliveries share one token bucket and are retried with jittered exponential
// backoff. A small in-memory history backs the status API.
package notifier
