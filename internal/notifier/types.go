package notifier

import (
	"context"
	"time"

	"paybybot/internal/parking"
)

// Notifier sends a human-readable message to a task's recipient.
type Notifier interface {
	Send(ctx context.Context, to parking.Recipient, subject, body string) error
}

// Channel is one delivery transport (mail, telegram).
type Channel interface {
	Name() string
	// Accepts reports whether the recipient is reachable on this channel.
	Accepts(to parking.Recipient) bool
	Deliver(ctx context.Context, to parking.Recipient, subject, body string) error
}

// Config controls delivery. Durations are already parsed.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Error   string    `json:"error,omitempty"`
}

// NotificationEvent is published on the event bus after each delivery attempt
// sequence. It never carries credentials.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
