package parking

import (
	"strings"
	"time"
)

// Credentials log a Task into the parking portal.
type Credentials struct {
	Login    string
	Password string
}

// Recipient describes where a Task's notifications go. A recipient may use
// several channels; each non-empty channel receives every message.
type Recipient struct {
	Email    string
	Password string // SMTP login password for Email

	TelegramToken  string
	TelegramChatID int64
}

func (r Recipient) IsZero() bool {
	return strings.TrimSpace(r.Email) == "" && r.TelegramChatID == 0
}

// String renders the recipient for logs without credentials.
func (r Recipient) String() string {
	parts := make([]string, 0, 2)
	if r.Email != "" {
		parts = append(parts, "mail:"+r.Email)
	}
	if r.TelegramChatID != 0 {
		parts = append(parts, "telegram")
	}
	return strings.Join(parts, ",")
}

// PayDirective tells the runners how to renew parking for a Task.
type PayDirective struct {
	Location     string // overrides Task.Location when set
	Rate         string
	Duration     time.Duration
	ExpectedCost string
	Notify       bool // notify on success
}

// Cadence is the recurring check rule as written in the configuration.
// Either Cron or Unit is set.
type Cadence struct {
	Every      int
	Unit       string // minute | hour | day | week
	At         string // time-of-day anchor
	Weekday    string // week only
	Cron       string
	RunOnStart bool
}

// Task is one configured vehicle/location monitoring and payment unit.
// Tasks are immutable once loaded and shared read-only between jobs.
type Task struct {
	Name          string
	Plate         string
	Location      string
	Check         Cadence
	Pay           *PayDirective
	Recipient     Recipient
	NotifyOnError bool
	Credentials   Credentials
}

// MatchLocation is the location a session must be parked at to cover the Task.
func (t *Task) MatchLocation() string {
	if t.Pay != nil && strings.TrimSpace(t.Pay.Location) != "" {
		return t.Pay.Location
	}
	return t.Location
}

// Matches reports whether s is for this Task's vehicle and location.
func (t *Task) Matches(s Session) bool {
	return normalizePlate(s.Plate) == normalizePlate(t.Plate) &&
		strings.TrimSpace(s.Location) == strings.TrimSpace(t.MatchLocation())
}

// CoveredAt reports whether one of sessions matches the Task and is still
// running at now. With several matches the latest-ending one is returned.
func (t *Task) CoveredAt(sessions []Session, now time.Time) (Session, bool) {
	var (
		best  Session
		found bool
	)
	for _, s := range sessions {
		if !t.Matches(s) || !s.Expiry.After(now) {
			continue
		}
		if !found || s.Expiry.After(best.Expiry) {
			best, found = s, true
		}
	}
	return best, found
}

// Session is an active parking permit as observed on the portal.
type Session struct {
	Plate    string
	Location string
	Expiry   time.Time
	Rate     string
}

// Remaining is the time left until expiry (negative once expired).
func (s Session) Remaining(now time.Time) time.Duration {
	return s.Expiry.Sub(now)
}

// Plates are compared without separators or case: "ab-123-cd" == "AB 123 CD".
func normalizePlate(p string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(p) {
		if r == '-' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PayRequest is what a provider needs to start a parking session.
type PayRequest struct {
	Plate        string
	Location     string
	Rate         string
	Duration     time.Duration
	ExpectedCost string
}

type OutcomeKind string

const (
	OutcomePaid    OutcomeKind = "paid"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeSkipped OutcomeKind = "skipped"
)

// PaymentOutcome is the result of one pay attempt.
type PaymentOutcome struct {
	Kind OutcomeKind
	Cost string
	Err  error
}

func (o PaymentOutcome) OK() bool { return o.Kind != OutcomeFailed }

// PendingPay is a scheduled one-shot payment that survives restarts.
type PendingPay struct {
	JobID string    `json:"job_id"`
	Task  string    `json:"task"`
	At    time.Time `json:"at"`
}

// PaymentRecord is one ledger line.
type PaymentRecord struct {
	ID       string      `json:"id"`
	Task     string      `json:"task"`
	Plate    string      `json:"plate"`
	Location string      `json:"location"`
	Rate     string      `json:"rate"`
	Minutes  int         `json:"minutes"`
	Outcome  OutcomeKind `json:"outcome"`
	Cost     string      `json:"cost,omitempty"`
	Error    string      `json:"error,omitempty"`
	At       time.Time   `json:"at"`
}
